package indicator

import (
	"fmt"
	"os"
	"strings"

	"github.com/rbright/songscout/internal/catalog"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	listening   string
	listenTip   string
	identifying string
	found       string
	errorText   string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			listening:   "Listening…",
			listenTip:   "Hold the microphone near the music. Run toggle again after a few seconds.",
			identifying: "Identifying song…",
			found:       "Found a match",
			errorText:   "Song recognition error",
		}
	}
}

// trackLine renders "Name by Artist, Artist" for notification bodies.
func trackLine(track catalog.Track) string {
	artists := track.ArtistNames()
	if artists == "" {
		return track.Name
	}
	return fmt.Sprintf("%s by %s", track.Name, artists)
}
