// Package catalog talks to the Spotify Web API and defines the track shape shared by
// search, recognition, and history.
package catalog

// Track mirrors the catalog's track object.
type Track struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Artists      []Artist     `json:"artists"`
	Album        Album        `json:"album"`
	DurationMS   int64        `json:"duration_ms"`
	PreviewURL   *string      `json:"preview_url"`
	Popularity   int          `json:"popularity"`
	Explicit     bool         `json:"explicit"`
	ExternalURLs ExternalURLs `json:"external_urls"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Images      []Image `json:"images"`
	ReleaseDate string  `json:"release_date"`
}

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

// ArtistNames joins artist names for display.
func (t Track) ArtistNames() string {
	out := ""
	for i, artist := range t.Artists {
		if i > 0 {
			out += ", "
		}
		out += artist.Name
	}
	return out
}
