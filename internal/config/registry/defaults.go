package registry

// RegisterDefaults registers all built-in Strata settings.
func (r *Registry) RegisterDefaults() {
	// UI settings
	r.MustRegister(Setting{
		Path:        "ui.theme",
		Type:        TypeEnum,
		Default:     "system",
		Description: "Color theme",
		Enum:        []any{"light", "dark", "system"},
		Required:    true,
		Tags:        []string{"ui", "appearance"},
	})
	r.MustRegister(Setting{
		Path:        "ui.language",
		Type:        TypeString,
		Default:     "en",
		Description: "Interface language as an ISO 639-1 code with optional region",
		Pattern:     `^[a-z]{2}(-[A-Z]{2})?$`,
		Tags:        []string{"ui", "locale"},
	})
	r.MustRegister(Setting{
		Path:        "ui.font_size",
		Type:        TypeInt,
		Default:     14,
		Description: "Base font size in points",
		Minimum:     MinValue(8),
		Maximum:     MaxValue(48),
		Tags:        []string{"ui", "appearance"},
	})
	r.MustRegister(Setting{
		Path:        "ui.scale",
		Type:        TypeFloat,
		Default:     1.0,
		Description: "Interface scale factor",
		Minimum:     MinValue(0.5),
		Maximum:     MaxValue(3),
		Tags:        []string{"ui", "appearance"},
	})
	r.MustRegister(Setting{
		Path:              "ui.color_scheme",
		Type:              TypeString,
		Description:       "Color scheme name",
		Deprecated:        true,
		DeprecatedMessage: "Use ui.theme instead",
		ReplacedBy:        "ui.theme",
		Tags:              []string{"ui", "appearance"},
	})

	// Window settings
	r.MustRegister(Setting{
		Path:        "window.width",
		Type:        TypeInt,
		Default:     1280,
		Description: "Initial window width in pixels",
		Minimum:     MinValue(640),
		Maximum:     MaxValue(7680),
		Tags:        []string{"window"},
	})
	r.MustRegister(Setting{
		Path:        "window.height",
		Type:        TypeInt,
		Default:     800,
		Description: "Initial window height in pixels",
		Minimum:     MinValue(480),
		Maximum:     MaxValue(4320),
		Tags:        []string{"window"},
	})
	r.MustRegister(Setting{
		Path:        "window.fullscreen",
		Type:        TypeBool,
		Default:     false,
		Description: "Start in fullscreen mode",
		Tags:        []string{"window"},
	})
	r.MustRegister(Setting{
		Path:        "window.remember_position",
		Type:        TypeBool,
		Default:     true,
		Description: "Restore the last window position on start",
		Tags:        []string{"window"},
	})

	// Audio settings
	r.MustRegister(Setting{
		Path:        "audio.enabled",
		Type:        TypeBool,
		Default:     true,
		Description: "Play interface sounds",
		Tags:        []string{"audio"},
	})
	r.MustRegister(Setting{
		Path:        "audio.volume",
		Type:        TypeFloat,
		Default:     0.8,
		Description: "Master volume",
		Minimum:     MinValue(0),
		Maximum:     MaxValue(1),
		Tags:        []string{"audio"},
	})

	// Onboarding settings
	r.MustRegister(Setting{
		Path:        "onboarding.completed",
		Type:        TypeBool,
		Default:     false,
		Description: "Whether the first-run wizard has been completed",
		Tags:        []string{"onboarding"},
	})
	r.MustRegister(Setting{
		Path:        "onboarding.step",
		Type:        TypeInt,
		Default:     0,
		Description: "Last wizard step reached",
		Minimum:     MinValue(0),
		Tags:        []string{"onboarding"},
	})

	// Update settings
	r.MustRegister(Setting{
		Path:        "updates.channel",
		Type:        TypeEnum,
		Default:     "stable",
		Description: "Release channel to follow",
		Enum:        []any{"stable", "beta", "nightly"},
		Tags:        []string{"updates"},
	})
	r.MustRegister(Setting{
		Path:        "updates.check_interval",
		Type:        TypeDuration,
		Default:     "24h",
		Description: "How often to check for updates",
		Tags:        []string{"updates"},
	})

	// Persistence settings
	r.MustRegister(Setting{
		Path:        "persistence.backup_count",
		Type:        TypeInt,
		Default:     10,
		Description: "Number of configuration backups to keep",
		Minimum:     MinValue(0),
		Maximum:     MaxValue(100),
		Tags:        []string{"persistence"},
	})

	// Logging settings
	r.MustRegister(Setting{
		Path:        "logging.level",
		Type:        TypeEnum,
		Default:     "info",
		Description: "Minimum log level",
		Enum:        []any{"debug", "info", "warn", "error"},
		Tags:        []string{"logging"},
	})
}
