package config

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	maxTickMS         = 1000
	recommendedTickMS = 150
	maxSearchLimit    = 50
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := requireHTTPURL("recognition.endpoint", cfg.Recognition.Endpoint); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Recognition.APIHost) == "" {
		return nil, fmt.Errorf("recognition.api_host must not be empty")
	}
	if probe := strings.TrimSpace(cfg.Recognition.ProbeURL); probe != "" {
		if err := requireHTTPURL("recognition.probe_url", probe); err != nil {
			return nil, err
		}
	}
	if cfg.Recognition.TimeoutMS <= 0 {
		return nil, fmt.Errorf("recognition.timeout_ms must be > 0")
	}

	if err := requireHTTPURL("catalog.base_url", cfg.Catalog.BaseURL); err != nil {
		return nil, err
	}
	if err := requireHTTPURL("catalog.token_url", cfg.Catalog.TokenURL); err != nil {
		return nil, err
	}
	if cfg.Catalog.SearchLimit < 1 || cfg.Catalog.SearchLimit > maxSearchLimit {
		return nil, fmt.Errorf("catalog.search_limit must be between 1 and %d", maxSearchLimit)
	}
	if cfg.Catalog.TimeoutMS <= 0 {
		return nil, fmt.Errorf("catalog.timeout_ms must be > 0")
	}

	vs := cfg.VoiceSearch
	if vs.MinDurationMS <= 0 {
		return nil, fmt.Errorf("voice_search.min_duration_ms must be > 0")
	}
	if vs.MaxDurationMS <= vs.MinDurationMS {
		return nil, fmt.Errorf("voice_search.max_duration_ms must be greater than voice_search.min_duration_ms")
	}
	if vs.TickMS <= 0 || vs.TickMS > maxTickMS {
		return nil, fmt.Errorf("voice_search.tick_ms must be in (0, %d]", maxTickMS)
	}
	if vs.TickMS > recommendedTickMS {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("voice_search.tick_ms=%d is above %d; the duration display will update sluggishly", vs.TickMS, recommendedTickMS)})
	}
	if vs.RecognitionTimeoutMS <= 0 {
		return nil, fmt.Errorf("voice_search.recognition_timeout_ms must be > 0")
	}
	if vs.RecognitionTimeoutMS < cfg.Recognition.TimeoutMS+cfg.Catalog.TimeoutMS {
		return nil, fmt.Errorf(
			"voice_search.recognition_timeout_ms (%d) must cover recognition.timeout_ms + catalog.timeout_ms (%d)",
			vs.RecognitionTimeoutMS, cfg.Recognition.TimeoutMS+cfg.Catalog.TimeoutMS,
		)
	}

	if cfg.History.MaxEntries <= 0 {
		return nil, fmt.Errorf("history.max_entries must be > 0")
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.AppName) == "" {
		return nil, fmt.Errorf("indicator.app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Clipboard.Enable && len(cfg.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("clipboard.argv must not be empty when clipboard.enable=true")
	}

	return warnings, nil
}

func requireHTTPURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", key)
	}
	return nil
}
