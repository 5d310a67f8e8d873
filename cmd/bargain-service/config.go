package main

import (
	"time"

	"bargain/internal/analytics"
	"bargain/internal/featureflag"
	"bargain/internal/ratelimit"
	"bargain/internal/service/bargain/application"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
)

const (
	sourceRules = "rules"
	sourceHTTP  = "http"
	sourceNone  = "none"
)

// serviceConfig 是配置文件中 bargain 段
type serviceConfig struct {
	Bargain bargainConfig `yaml:"bargain"`
}

type bargainConfig struct {
	Store         application.Config `yaml:"store"`
	RateLimit     ratelimit.Config   `yaml:"rate_limit"`
	Flags         featureflag.State  `yaml:"flags"`
	Analytics     analytics.Config   `yaml:"analytics"`
	SweepInterval time.Duration      `yaml:"sweep_interval"`
	LiveTick      time.Duration      `yaml:"live_tick"`
	Markup        markupConfig       `yaml:"markup"`
	Promo         promoConfig        `yaml:"promo"`
	Settings      settingsConfig     `yaml:"settings"`
}

// remoteConfig 描述一个可替换为外部服务的依赖
type remoteConfig struct {
	Source string `yaml:"source"`
	// ServiceName 启用 Nacos 时优先用服务发现，失败再用 ServiceURL
	ServiceName string `yaml:"service_name"`
	ServiceURL  string `yaml:"service_url"`
}

type markupConfig struct {
	remoteConfig `yaml:",inline"`
	Attempts     int                               `yaml:"attempts"`
	Fallback     domain.Ranges                     `yaml:"fallback"`
	Defaults     map[domain.Category]domain.Ranges `yaml:"defaults"`
}

type promoConfig struct {
	remoteConfig `yaml:",inline"`
	Attempts     int `yaml:"attempts"`
}

type settingsConfig struct {
	CacheTTL time.Duration         `yaml:"cache_ttl"`
	Fallback port.ModuleSettings   `yaml:"fallback"`
	Modules  []port.ModuleSettings `yaml:"modules"`
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{Bargain: bargainConfig{
		Store:         application.DefaultConfig(),
		RateLimit:     ratelimit.DefaultConfig(),
		Flags:         featureflag.State{TrafficPercent: 1},
		Analytics:     analytics.DefaultConfig(),
		SweepInterval: 30 * time.Second,
		LiveTick:      time.Second,
		Markup: markupConfig{
			remoteConfig: remoteConfig{Source: sourceRules},
			Attempts:     3,
			Fallback: domain.Ranges{
				Current: domain.Range{Min: 5, Max: 8},
				Bargain: domain.Range{Min: 2, Max: 3},
			},
			Defaults: defaultMarkupRanges(),
		},
		Promo: promoConfig{remoteConfig: remoteConfig{Source: sourceRules}, Attempts: 3},
		Settings: settingsConfig{
			CacheTTL: 5 * time.Minute,
			Fallback: port.ModuleSettings{Enabled: true, TimerSeconds: 120, MaxAttempts: 2},
		},
	}}
}

// defaultMarkupRanges 覆盖全部类别，配置文件里的同名项会覆盖它
func defaultMarkupRanges() map[domain.Category]domain.Ranges {
	r := func(cMin, cMax, bMin, bMax float64) domain.Ranges {
		return domain.Ranges{
			Current: domain.Range{Min: cMin, Max: cMax},
			Bargain: domain.Range{Min: bMin, Max: bMax},
		}
	}
	return map[domain.Category]domain.Ranges{
		domain.CategoryHotel:    r(8, 12, 2, 5),
		domain.CategoryFlight:   r(3, 6, 1, 2),
		domain.CategoryTransfer: r(6, 10, 2, 4),
		domain.CategoryPackage:  r(10, 15, 3, 6),
		domain.CategoryAddon:    r(4, 8, 1, 3),
	}
}
