// Package app dispatches parsed commands to the owner process, the catalog, history,
// and diagnostics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/songscout/internal/audio"
	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/cli"
	"github.com/rbright/songscout/internal/config"
	"github.com/rbright/songscout/internal/doctor"
	"github.com/rbright/songscout/internal/history"
	"github.com/rbright/songscout/internal/ipc"
	"github.com/rbright/songscout/internal/logging"
	"github.com/rbright/songscout/internal/reconcile"
	"github.com/rbright/songscout/internal/version"
)

const (
	binaryName         = "songscout"
	forwardTimeout     = 220 * time.Millisecond
	defaultSearchLimit = 20
	historyTimeout     = 3 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New(parsed.Debug)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: logging disabled: %v\n", err)
		logRuntime = logging.Discard()
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, doctor.Options{})
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	case cli.CommandSearch:
		return r.commandSearch(ctx, cfgLoaded.Config, parsed)
	case cli.CommandTrack:
		return r.commandTrack(ctx, cfgLoaded.Config, parsed.TrackID)
	case cli.CommandHistory:
		return r.commandHistory(ctx, cfgLoaded.Config, parsed, logger)
	case cli.CommandToggle:
		return r.commandToggle(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = "idle"
	}
	if resp.DurationSeconds > 0 {
		fmt.Fprintf(r.Stdout, "%s %.1fs\n", resp.State, resp.DurationSeconds)
		return 0
	}
	fmt.Fprintln(r.Stdout, resp.State)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active %s session\n", binaryName)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) requireCatalogCredentials(cfg config.Config) bool {
	if strings.TrimSpace(cfg.Catalog.ClientID) != "" && strings.TrimSpace(cfg.Catalog.ClientSecret) != "" {
		return true
	}
	fmt.Fprintf(r.Stderr, "error: catalog credentials missing; set catalog.client_id/client_secret or %s/%s\n",
		config.EnvCatalogClientID, config.EnvCatalogClientSecret)
	return false
}

func (r Runner) commandSearch(ctx context.Context, cfg config.Config, parsed cli.Parsed) int {
	if !r.requireCatalogCredentials(cfg) {
		return 1
	}

	limit := parsed.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	tracks, err := newCatalogClient(cfg).Search(ctx, parsed.Query, limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(tracks) == 0 {
		fmt.Fprintln(r.Stdout, "no results")
		return 1
	}
	printTracks(r.Stdout, tracks)
	return 0
}

// commandTrack prints catalog details for one id, typically taken from search or
// history output.
func (r Runner) commandTrack(ctx context.Context, cfg config.Config, id string) int {
	if reconcile.IsSynthesized(catalog.Track{ID: id}) {
		fmt.Fprintf(r.Stderr, "error: %s was identified without a catalog match and has no catalog entry\n", id)
		return 1
	}
	if !r.requireCatalogCredentials(cfg) {
		return 1
	}

	track, err := newCatalogClient(cfg).GetTrack(ctx, id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		fmt.Fprintf(r.Stderr, "error: no catalog track with id %s\n", id)
		return 1
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	printTrackDetails(r.Stdout, track)
	return 0
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	if !cfg.History.Enable {
		fmt.Fprintln(r.Stderr, "error: history is disabled (history.enable=false)")
		return 1
	}
	store, err := openHistory(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if parsed.Clear {
		if err := store.Clear(ctx); err != nil {
			fmt.Fprintf(r.Stderr, "error: clear history: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, "history cleared")
		return 0
	}

	entries, err := store.List(ctx, parsed.Limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: read history: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no history")
		return 0
	}
	for _, entry := range entries {
		fmt.Fprintf(r.Stdout, "%s %s\n",
			entry.RecognizedAt.Local().Format(time.DateTime),
			formatTrack(entry.Track),
		)
	}
	return 0
}

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if handled {
		return r.printForwarded(resp, err)
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.DefaultProbeTimeout, ipc.DefaultRetries)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			resp, _, forwardErr := tryForward(ctx, socketPath, ipc.CommandToggle)
			return r.printForwarded(resp, forwardErr)
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer svc.Close(context.WithoutCancel(ctx))

	o := newOwner(svc.controller, logger, svc.maxDuration)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, o)
	}()

	result := o.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, result)
	svc.remember(ctx, result.Outcome)
	svc.copyResult(ctx, result.Outcome)

	switch {
	case result.Cancelled:
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	case result.Err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	case result.Outcome.Failure != nil:
		fmt.Fprintf(r.Stderr, "error: %s\n", result.Outcome.Failure.Message)
		return 1
	}
	printTracks(r.Stdout, result.Outcome.Tracks)
	return 0
}

func (r Runner) printForwarded(resp ipc.Response, err error) int {
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func openHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*history.Store, error) {
	path, err := config.HistoryPath(cfg)
	if err != nil {
		return nil, err
	}
	return history.Open(ctx, path, cfg.History.MaxEntries, logger)
}

func newCatalogClient(cfg config.Config) *catalog.Client {
	return catalog.NewClient(catalog.Config{
		BaseURL:      cfg.Catalog.BaseURL,
		TokenURL:     cfg.Catalog.TokenURL,
		ClientID:     cfg.Catalog.ClientID,
		ClientSecret: cfg.Catalog.ClientSecret,
		Market:       cfg.Catalog.Market,
		Timeout:      time.Duration(cfg.Catalog.TimeoutMS) * time.Millisecond,
	})
}

func printTracks(w io.Writer, tracks []catalog.Track) {
	for _, track := range tracks {
		fmt.Fprintln(w, formatTrack(track))
	}
}

func printTrackDetails(w io.Writer, track catalog.Track) {
	fmt.Fprintln(w, formatTrack(track))
	album := track.Album.Name
	if track.Album.ReleaseDate != "" {
		album += " (" + track.Album.ReleaseDate + ")"
	}
	rows := [][2]string{
		{"album", album},
		{"duration", formatDurationMS(track.DurationMS)},
		{"popularity", strconv.Itoa(track.Popularity)},
		{"explicit", yesNo(track.Explicit)},
		{"link", track.ExternalURLs.Spotify},
	}
	if track.PreviewURL != nil {
		rows = append(rows, [2]string{"preview", *track.PreviewURL})
	}
	for _, row := range rows {
		if strings.TrimSpace(row[1]) == "" {
			continue
		}
		fmt.Fprintf(w, "  %-11s %s\n", row[0]+":", row[1])
	}
}

// formatDurationMS renders m:ss.
func formatDurationMS(ms int64) string {
	if ms <= 0 {
		return ""
	}
	total := ms / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func formatTrack(track catalog.Track) string {
	line := track.Name
	if artists := track.ArtistNames(); artists != "" {
		line += " by " + artists
	}
	if track.ID != "" {
		line += " [" + track.ID + "]"
	}
	return line
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) || isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
