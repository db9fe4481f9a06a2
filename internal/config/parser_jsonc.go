package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Recognition *jsoncRecognition `json:"recognition"`
	Catalog     *jsoncCatalog     `json:"catalog"`
	Audio       *jsoncAudio       `json:"audio"`
	VoiceSearch *jsoncVoiceSearch `json:"voice_search"`
	History     *jsoncHistory     `json:"history"`
	Indicator   *jsoncIndicator   `json:"indicator"`
	Clipboard   *jsoncClipboard   `json:"clipboard"`
	Debug       *jsoncDebug       `json:"debug"`
}

type jsoncRecognition struct {
	Endpoint  *string `json:"endpoint"`
	APIHost   *string `json:"api_host"`
	APIKey    *string `json:"api_key"`
	ProbeURL  *string `json:"probe_url"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncCatalog struct {
	BaseURL      *string `json:"base_url"`
	TokenURL     *string `json:"token_url"`
	ClientID     *string `json:"client_id"`
	ClientSecret *string `json:"client_secret"`
	Market       *string `json:"market"`
	SearchLimit  *int    `json:"search_limit"`
	TimeoutMS    *int    `json:"timeout_ms"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncVoiceSearch struct {
	MinDurationMS        *int `json:"min_duration_ms"`
	MaxDurationMS        *int `json:"max_duration_ms"`
	TickMS               *int `json:"tick_ms"`
	RecognitionTimeoutMS *int `json:"recognition_timeout_ms"`
}

type jsoncHistory struct {
	Enable     *bool   `json:"enable"`
	Path       *string `json:"path"`
	MaxEntries *int    `json:"max_entries"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	AppName        *string `json:"app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncClipboard struct {
	Enable *bool     `json:"enable"`
	Argv   *[]string `json:"argv"`
}

type jsoncDebug struct {
	KeepSamples *bool `json:"keep_samples"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	payload.applyTo(&cfg)

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) {
	if r := payload.Recognition; r != nil {
		setString(&cfg.Recognition.Endpoint, r.Endpoint)
		setString(&cfg.Recognition.APIHost, r.APIHost)
		setString(&cfg.Recognition.APIKey, r.APIKey)
		setString(&cfg.Recognition.ProbeURL, r.ProbeURL)
		setInt(&cfg.Recognition.TimeoutMS, r.TimeoutMS)
	}

	if c := payload.Catalog; c != nil {
		setString(&cfg.Catalog.BaseURL, c.BaseURL)
		setString(&cfg.Catalog.TokenURL, c.TokenURL)
		setString(&cfg.Catalog.ClientID, c.ClientID)
		setString(&cfg.Catalog.ClientSecret, c.ClientSecret)
		setString(&cfg.Catalog.Market, c.Market)
		setInt(&cfg.Catalog.SearchLimit, c.SearchLimit)
		setInt(&cfg.Catalog.TimeoutMS, c.TimeoutMS)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}

	if v := payload.VoiceSearch; v != nil {
		setInt(&cfg.VoiceSearch.MinDurationMS, v.MinDurationMS)
		setInt(&cfg.VoiceSearch.MaxDurationMS, v.MaxDurationMS)
		setInt(&cfg.VoiceSearch.TickMS, v.TickMS)
		setInt(&cfg.VoiceSearch.RecognitionTimeoutMS, v.RecognitionTimeoutMS)
	}

	if h := payload.History; h != nil {
		setBool(&cfg.History.Enable, h.Enable)
		setString(&cfg.History.Path, h.Path)
		setInt(&cfg.History.MaxEntries, h.MaxEntries)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.AppName, i.AppName)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if c := payload.Clipboard; c != nil {
		setBool(&cfg.Clipboard.Enable, c.Enable)
		if c.Argv != nil {
			cfg.Clipboard.Argv = trimArgv(*c.Argv)
		}
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.KeepSamples, d.KeepSamples)
	}
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func trimArgv(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		if arg = strings.TrimSpace(arg); arg != "" {
			out = append(out, arg)
		}
	}
	return out
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}

func setBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}

// normalizeJSONC blanks comments and drops trailing commas so encoding/json can decode
// the result. Byte offsets are preserved for comments so decode errors still point at
// the right line.
func normalizeJSONC(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	var (
		inString bool
		escape   bool
	)
	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			out.WriteByte(ch)
		case ch == '/' && i+1 < len(content) && content[i+1] == '/':
			end := strings.IndexAny(content[i:], "\r\n")
			if end < 0 {
				end = len(content) - i
			}
			out.WriteString(strings.Repeat(" ", end))
			i += end - 1
		case ch == '/' && i+1 < len(content) && content[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return "", fmt.Errorf("unterminated block comment in JSONC")
			}
			out.WriteString(blankPreservingLines(content[i : i+2+end+2]))
			i += 2 + end + 1
		case ch == ',' && closesAfterComma(content, i+1):
			out.WriteByte(' ')
		default:
			out.WriteByte(ch)
		}
	}

	return out.String(), nil
}

// closesAfterComma reports whether the next significant byte after from closes an
// object or array. Comments between the comma and the bracket are skipped.
func closesAfterComma(content string, from int) bool {
	for i := from; i < len(content); i++ {
		switch ch := content[i]; {
		case isJSONWhitespace(ch):
		case ch == '/' && i+1 < len(content) && content[i+1] == '/':
			end := strings.IndexAny(content[i:], "\r\n")
			if end < 0 {
				return false
			}
			i += end
		case ch == '/' && i+1 < len(content) && content[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += 2 + end + 1
		default:
			return ch == '}' || ch == ']'
		}
	}
	return false
}

func blankPreservingLines(segment string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		return ' '
	}, segment)
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var offset int64 = -1

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	}
	if offset < 0 {
		return err
	}

	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	prefix := content[:min(int(offset), len(content))]
	if len(prefix) > 0 {
		prefix = prefix[:len(prefix)-1]
	}
	line := strings.Count(prefix, "\n") + 1
	col := len(prefix) - strings.LastIndex(prefix, "\n")
	return line, col
}
