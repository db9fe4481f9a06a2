// Package reconcile maps a recognition match onto catalog tracks, synthesizing a
// standalone track when the catalog cannot help.
package reconcile

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/recognition"
)

const (
	// SyntheticPrefix marks ids of tracks built from provider data alone.
	SyntheticPrefix = "shazam_"
	DefaultLimit    = 5
	artworkSize     = 300
)

// Searcher is the catalog read used for reconciliation.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]catalog.Track, error)
}

// Reconciler implements recognition.Resolver.
type Reconciler struct {
	searcher Searcher
	limit    int
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

var _ recognition.Resolver = (*Reconciler)(nil)

func New(searcher Searcher, limit int, logger *slog.Logger) *Reconciler {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Reconciler{
		searcher: searcher,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Resolve returns catalog hits verbatim when there are any, otherwise exactly one
// synthesized track. Catalog errors are logged and absorbed, and so is ctx expiring
// before the catalog answers.
func (r *Reconciler) Resolve(ctx context.Context, match recognition.Match, recorded time.Duration) []catalog.Track {
	query := match.Query()
	if r.searcher != nil && query != "" {
		tracks, err := r.search(ctx, query)
		switch {
		case err != nil:
			r.warn("catalog search failed; using recognition data", "query", query, "error", err.Error())
		case len(tracks) > 0:
			return tracks
		default:
			r.warn("catalog search returned no tracks; using recognition data", "query", query)
		}
	}
	return []catalog.Track{r.synthesize(match, recorded)}
}

type searchResult struct {
	tracks []catalog.Track
	err    error
}

// search stops waiting on the catalog once ctx is done, even if the searcher does not.
func (r *Reconciler) search(ctx context.Context, query string) ([]catalog.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan searchResult, 1)
	go func() {
		tracks, err := r.searcher.Search(ctx, query, r.limit)
		done <- searchResult{tracks: tracks, err: err}
	}()

	select {
	case res := <-done:
		return res.tracks, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// synthesize builds a catalog-shaped track from the match alone.
func (r *Reconciler) synthesize(match recognition.Match, recorded time.Duration) catalog.Track {
	id := strings.TrimSpace(match.ExternalID)
	if id == "" {
		id = r.newID()
	}

	artists := append([]catalog.Artist(nil), match.Artists...)
	if len(artists) == 0 {
		artists = append(artists, catalog.Artist{ID: SyntheticPrefix + "artist_" + r.newID(), Name: match.Subtitle})
	}

	album := catalog.Album{
		ID:          match.AlbumID,
		Name:        match.Subtitle,
		Images:      []catalog.Image{},
		ReleaseDate: match.ReleaseDate,
	}
	if album.ID == "" {
		album.ID = SyntheticPrefix + "album_" + r.newID()
	}
	if album.ReleaseDate == "" {
		album.ReleaseDate = r.now().Format("2006-01-02")
	}
	if match.ArtworkURL != "" {
		album.Images = append(album.Images, catalog.Image{URL: match.ArtworkURL, Width: artworkSize, Height: artworkSize})
	}

	track := catalog.Track{
		ID:         SyntheticPrefix + id,
		Name:       match.Title,
		Artists:    artists,
		Album:      album,
		DurationMS: recorded.Milliseconds(),
		Popularity: 0,
		Explicit:   match.Explicit,
		ExternalURLs: catalog.ExternalURLs{
			Spotify: match.ShareURL,
		},
	}
	if isWebURL(match.DeepLink) {
		preview := match.DeepLink
		track.PreviewURL = &preview
	}
	return track
}

// IsSynthesized reports whether track was built without a catalog hit.
func IsSynthesized(track catalog.Track) bool {
	return strings.HasPrefix(track.ID, SyntheticPrefix)
}

func isWebURL(raw string) bool {
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func (r *Reconciler) warn(msg string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(msg, args...)
}
