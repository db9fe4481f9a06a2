// Package doctor runs readiness diagnostics for config, credentials, audio, and storage.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rbright/songscout/internal/audio"
	"github.com/rbright/songscout/internal/catalog"
	"github.com/rbright/songscout/internal/config"
	"github.com/rbright/songscout/internal/history"
	"github.com/rbright/songscout/internal/recognition"
)

const probeTimeout = 5 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Options swaps live dependencies for tests. Zero values use the real ones.
type Options struct {
	HTTPClient   *http.Client
	SelectDevice func(ctx context.Context, input, fallback string) (audio.Selection, error)
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, opts Options) Report {
	if opts.SelectDevice == nil {
		opts.SelectDevice = audio.SelectDevice
	}
	cfg := loaded.Config

	checks := []Check{checkConfig(loaded)}
	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "owner socket directory available", "XDG_RUNTIME_DIR is empty; toggle/stop cannot reach the owner"))

	checks = append(checks, checkRecognition(ctx, cfg, opts.HTTPClient))
	checks = append(checks, checkCatalog(ctx, cfg, opts.HTTPClient))
	checks = append(checks, checkAudioSelection(ctx, cfg, opts.SelectDevice))
	checks = append(checks, checkHistory(ctx, cfg))

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("using defaults (%q not found)", loaded.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", loaded.Path)}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkRecognition verifies the provider key and, when a probe URL is set, that the
// provider accepts it.
func checkRecognition(ctx context.Context, cfg config.Config, httpClient *http.Client) Check {
	const name = "recognition"
	if strings.TrimSpace(cfg.Recognition.APIKey) == "" {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("api key missing; set recognition.api_key or %s", config.EnvRecognitionAPIKey)}
	}
	probeURL := strings.TrimSpace(cfg.Recognition.ProbeURL)
	if probeURL == "" {
		return Check{Name: name, Pass: true, Message: "api key configured (probe disabled)"}
	}

	client := recognition.NewClient(recognition.Config{
		Endpoint:   cfg.Recognition.Endpoint,
		APIHost:    cfg.Recognition.APIHost,
		APIKey:     cfg.Recognition.APIKey,
		Timeout:    probeTimeout,
		HTTPClient: httpClient,
	})
	if err := client.Probe(ctx, probeURL); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("probe %s failed: %v", cfg.Recognition.APIHost, err)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("provider %s accepted the api key", cfg.Recognition.APIHost)}
}

// checkCatalog runs a one-result search, which exercises the token grant and the API.
func checkCatalog(ctx context.Context, cfg config.Config, httpClient *http.Client) Check {
	const name = "catalog"
	if strings.TrimSpace(cfg.Catalog.ClientID) == "" || strings.TrimSpace(cfg.Catalog.ClientSecret) == "" {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf(
			"client credentials missing; set catalog.client_id/client_secret or %s/%s",
			config.EnvCatalogClientID, config.EnvCatalogClientSecret,
		)}
	}

	client := catalog.NewClient(catalog.Config{
		BaseURL:      cfg.Catalog.BaseURL,
		TokenURL:     cfg.Catalog.TokenURL,
		ClientID:     cfg.Catalog.ClientID,
		ClientSecret: cfg.Catalog.ClientSecret,
		Market:       cfg.Catalog.Market,
		Timeout:      probeTimeout,
		HTTPClient:   httpClient,
	})
	if _, err := client.Search(ctx, "songscout", 1); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("authorized against %s", cfg.Catalog.BaseURL)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(
	ctx context.Context,
	cfg config.Config,
	selectDevice func(context.Context, string, string) (audio.Selection, error),
) Check {
	selection, err := selectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkHistory opens the history database, creating it if needed.
func checkHistory(ctx context.Context, cfg config.Config) Check {
	const name = "history"
	if !cfg.History.Enable {
		return Check{Name: name, Pass: true, Message: "disabled"}
	}
	path, err := config.HistoryPath(cfg)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	store, err := history.Open(ctx, path, cfg.History.MaxEntries, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer store.Close()

	entries, err := store.List(ctx, 0)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("read %q: %v", path, err)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%d entries in %q", len(entries), path)}
}
