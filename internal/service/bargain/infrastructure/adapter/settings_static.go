package adapter

import (
	"context"
	"strings"

	"bargain/internal/service/bargain/domain/port"
)

// StaticSettingsProvider 从固定列表里挑最具体的配置：city > country > 模块默认
type StaticSettingsProvider struct {
	entries  []port.ModuleSettings
	fallback port.ModuleSettings
}

// NewStaticSettingsProvider fallback 用于列表里没有该模块的情况
func NewStaticSettingsProvider(entries []port.ModuleSettings, fallback port.ModuleSettings) *StaticSettingsProvider {
	return &StaticSettingsProvider{entries: entries, fallback: fallback}
}

func (p *StaticSettingsProvider) Settings(_ context.Context, q port.SettingsQuery) (port.ModuleSettings, error) {
	best, bestScore := -1, -1
	for i, e := range p.entries {
		score, ok := matchScore(e, q)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		s := p.fallback
		s.Module = q.Module
		return s, nil
	}
	return p.entries[best], nil
}

func matchScore(e port.ModuleSettings, q port.SettingsQuery) (int, bool) {
	if !strings.EqualFold(e.Module, q.Module) {
		return 0, false
	}
	score := 0
	if e.CountryCode != "" {
		if !strings.EqualFold(e.CountryCode, q.CountryCode) {
			return 0, false
		}
		score++
	}
	if e.City != "" {
		if !strings.EqualFold(e.City, q.City) {
			return 0, false
		}
		score += 2
	}
	return score, true
}
