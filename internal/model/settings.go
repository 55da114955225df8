package model

// Settings is the single versioned configuration record consumed by external
// collaborators (FRP relay, Telegram bot). PUT /settings replaces the whole
// record and bumps Version.
type Settings struct {
	Version  int              `json:"version" yaml:"version"`
	FRP      FRPSettings      `json:"frp" yaml:"frp"`
	Telegram TelegramSettings `json:"telegram" yaml:"telegram"`
}

// FRPSettings configures the optional FRP reverse-tunnel channel used to
// reach nodes behind NAT.
type FRPSettings struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
}

// TelegramSettings configures the bot-based remote management channel.
type TelegramSettings struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	BotToken           string   `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	AdminIDs           []string `json:"admin_ids" yaml:"admin_ids"`
	BackupEnabled      bool     `json:"backup_enabled" yaml:"backup_enabled"`
	BackupInterval     int      `json:"backup_interval" yaml:"backup_interval"`
	BackupIntervalUnit string   `json:"backup_interval_unit" yaml:"backup_interval_unit"`
}

// DefaultSettings mirrors the defaults the boundary reports before anything
// has been stored.
func DefaultSettings() Settings {
	return Settings{
		FRP: FRPSettings{Port: 7000},
		Telegram: TelegramSettings{
			AdminIDs:           []string{},
			BackupInterval:     60,
			BackupIntervalUnit: "minutes",
		},
	}
}
