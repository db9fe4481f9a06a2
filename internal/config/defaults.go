package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Recognition: RecognitionConfig{
			Endpoint:  "https://shazam-api-free.p.rapidapi.com/shazam/recognize/",
			APIHost:   "shazam-api-free.p.rapidapi.com",
			ProbeURL:  "https://shazam-api-free.p.rapidapi.com/charts/get-top-songs-in-city?country_code=US&city_name=Chicago&limit=1",
			TimeoutMS: 12000,
		},
		Catalog: CatalogConfig{
			BaseURL:     "https://api.spotify.com/v1",
			TokenURL:    "https://accounts.spotify.com/api/token",
			SearchLimit: 5,
			TimeoutMS:   10000,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		VoiceSearch: VoiceSearchConfig{
			MinDurationMS:        3000,
			MaxDurationMS:        30000,
			TickMS:               100,
			RecognitionTimeoutMS: 25000,
		},
		History: HistoryConfig{
			Enable:     true,
			MaxEntries: 50,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			AppName:        "songscout",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Clipboard: ClipboardConfig{
			Argv: []string{"wl-copy"},
		},
	}
}
