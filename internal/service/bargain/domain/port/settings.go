package port

import "context"

// ModuleSettings 是模块级的计时/次数/文案配置
type ModuleSettings struct {
	Module       string            `json:"module" yaml:"module"`
	CountryCode  string            `json:"countryCode,omitempty" yaml:"country_code"`
	City         string            `json:"city,omitempty" yaml:"city"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	TimerSeconds int               `json:"timerSeconds" yaml:"timer_seconds"`
	MaxAttempts  int               `json:"maxAttempts" yaml:"max_attempts"`
	Copy         map[string]string `json:"copy,omitempty" yaml:"copy"`
}

// SettingsQuery 查询条件，CountryCode/City 可为空
type SettingsQuery struct {
	Module      string
	CountryCode string
	City        string
}

// SettingsProvider 是外部配置方的出站端口
type SettingsProvider interface {
	Settings(ctx context.Context, q SettingsQuery) (ModuleSettings, error)
}
