// Package output copies a recognized track to the desktop clipboard.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/songscout/internal/catalog"
)

const copyTimeout = 2 * time.Second

// Clipboard pipes text into a clipboard command such as wl-copy.
type Clipboard struct {
	argv   []string
	logger *slog.Logger
}

// NewClipboard returns a clipboard writer for argv. Copy fails when argv is empty.
func NewClipboard(argv []string, logger *slog.Logger) *Clipboard {
	return &Clipboard{argv: append([]string(nil), argv...), logger: logger}
}

// CopyTrack writes the track's catalog link, or its display line when it has none.
func (c *Clipboard) CopyTrack(ctx context.Context, track catalog.Track) error {
	return c.Copy(ctx, TrackText(track))
}

// Copy writes text to the clipboard. Empty text is a no-op.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()
	if err := runCommandWithInput(ctx, c.argv, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("copied result to clipboard", "command", c.argv[0], "bytes", len(text))
	}
	return nil
}

// TrackText prefers the catalog web link so the copy can be pasted into a browser or chat.
func TrackText(track catalog.Track) string {
	if link := strings.TrimSpace(track.ExternalURLs.Spotify); link != "" {
		return link
	}
	text := strings.TrimSpace(track.Name)
	if artists := track.ArtistNames(); artists != "" {
		text += " by " + artists
	}
	return text
}

// runCommandWithInput executes argv and writes input to its stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return errors.New("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}
