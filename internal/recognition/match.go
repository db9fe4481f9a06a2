// Package recognition uploads recorded samples to the song-recognition provider and
// turns its response into a validated Match.
package recognition

import (
	"errors"
	"strings"

	"github.com/rbright/songscout/internal/catalog"
)

// ErrRecognitionFailed marks transport, status, and schema failures. A missing match is
// not a failure.
var ErrRecognitionFailed = errors.New("recognition failed")

// Error carries the failing step and the underlying cause.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "recognition failed: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrRecognitionFailed
}

func failure(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Match is a provider hit. It is only built from a response that passed validation.
type Match struct {
	TagID      string
	Title      string
	Subtitle   string
	ExternalID string
	ArtworkURL string
	DeepLink   string

	Artists     []catalog.Artist
	AlbumID     string
	ReleaseDate string
	Explicit    bool
	ShareURL    string
	ISRC        string
}

// Query is the catalog search string for the match.
func (m Match) Query() string {
	return strings.TrimSpace(strings.TrimSpace(m.Title) + " " + strings.TrimSpace(m.Subtitle))
}

type wireResponse struct {
	TagID *string    `json:"tagid"`
	Track *wireTrack `json:"track"`
}

type wireTrack struct {
	Key         string       `json:"key"`
	Title       string       `json:"title"`
	Subtitle    string       `json:"subtitle"`
	Images      *wireImages  `json:"images"`
	Hub         *wireHub     `json:"hub"`
	URL         string       `json:"url"`
	Artists     []wireArtist `json:"artists"`
	AlbumAdamID string       `json:"albumadamid"`
	ReleaseDate string       `json:"releasedate"`
	ISRC        string       `json:"isrc"`
}

type wireImages struct {
	Background string `json:"background"`
	CoverArt   string `json:"coverart"`
}

type wireHub struct {
	Explicit bool         `json:"explicit"`
	Actions  []wireAction `json:"actions"`
}

type wireAction struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URI  string `json:"uri"`
}

type wireArtist struct {
	Alias string `json:"alias"`
	ID    string `json:"id"`
}

// toMatch validates the decoded body. A nil Match with nil error means no match.
func (w wireResponse) toMatch() (*Match, error) {
	if w.TagID == nil || strings.TrimSpace(*w.TagID) == "" {
		return nil, errors.New("response missing tagid")
	}
	if w.Track == nil {
		return nil, nil
	}

	track := w.Track
	if strings.TrimSpace(track.Key) == "" {
		return nil, errors.New("track missing key")
	}
	if strings.TrimSpace(track.Title) == "" {
		return nil, errors.New("track missing title")
	}

	match := &Match{
		TagID:       *w.TagID,
		Title:       strings.TrimSpace(track.Title),
		Subtitle:    strings.TrimSpace(track.Subtitle),
		ExternalID:  track.Key,
		AlbumID:     track.AlbumAdamID,
		ReleaseDate: track.ReleaseDate,
		ShareURL:    track.URL,
		ISRC:        track.ISRC,
	}

	if track.Images != nil {
		match.ArtworkURL = track.Images.CoverArt
		if match.ArtworkURL == "" {
			match.ArtworkURL = track.Images.Background
		}
	}
	if track.Hub != nil {
		match.Explicit = track.Hub.Explicit
		for _, action := range track.Hub.Actions {
			if action.Type == "uri" {
				match.DeepLink = action.URI
				break
			}
		}
	}
	for _, artist := range track.Artists {
		if strings.TrimSpace(artist.Alias) == "" {
			continue
		}
		match.Artists = append(match.Artists, catalog.Artist{ID: artist.ID, Name: artist.Alias})
	}
	return match, nil
}
