// Package config resolves, parses, validates, and defaults songscout configuration.
package config

// Config is the fully materialized runtime configuration used by songscout.
type Config struct {
	Recognition RecognitionConfig
	Catalog     CatalogConfig
	Audio       AudioConfig
	VoiceSearch VoiceSearchConfig
	History     HistoryConfig
	Indicator   IndicatorConfig
	Clipboard   ClipboardConfig
	Debug       DebugConfig
}

// RecognitionConfig addresses the audio fingerprint provider.
type RecognitionConfig struct {
	Endpoint  string
	APIHost   string
	APIKey    string
	ProbeURL  string
	TimeoutMS int
}

// CatalogConfig addresses the music catalog and its client-credentials grant.
type CatalogConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Market       string
	SearchLimit  int
	TimeoutMS    int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// VoiceSearchConfig bounds one recording and its recognition.
type VoiceSearchConfig struct {
	MinDurationMS        int
	MaxDurationMS        int
	TickMS               int
	RecognitionTimeoutMS int
}

// HistoryConfig controls the recently recognized track list.
type HistoryConfig struct {
	Enable     bool
	Path       string
	MaxEntries int
}

// IndicatorConfig controls desktop notifications and audio cues.
type IndicatorConfig struct {
	Enable         bool
	AppName        string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// ClipboardConfig copies the best delivered track through an external command that
// reads stdin (wl-copy, xclip -selection clipboard, pbcopy).
type ClipboardConfig struct {
	Enable bool
	Argv   []string
}

// DebugConfig controls optional debug artifact retention.
type DebugConfig struct {
	KeepSamples bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
