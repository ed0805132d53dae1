package config

const (
	defaultStateDir       = "~/.local/share/resona/state"
	defaultLogDir         = "~/.local/share/resona/logs"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultProfile        = "default"
	defaultHistoryLimit   = 200
	defaultPopupEnabled   = true
	defaultAutoRegenerate = false
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Analysis: Analysis{
			DefaultProfile: defaultProfile,
			AutoRegenerate: defaultAutoRegenerate,
			HistoryLimit:   defaultHistoryLimit,
		},
		Popup: Popup{
			Enabled: defaultPopupEnabled,
		},
	}
}
