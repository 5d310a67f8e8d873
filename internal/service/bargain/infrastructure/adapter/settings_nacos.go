package adapter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"gopkg.in/yaml.v3"

	"bargain/internal/pkg/logger"
	"bargain/internal/service/bargain/domain/port"
)

// ConfigSource 是 nacos config_client.IConfigClient 中用到的方法
type ConfigSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

type settingsDocument struct {
	Modules []port.ModuleSettings `yaml:"modules"`
}

// NacosSettingsProvider 从 Nacos 配置中心读取模块配置，并监听变更热更新
type NacosSettingsProvider struct {
	source   ConfigSource
	param    vo.ConfigParam
	fallback port.ModuleSettings
	current  atomic.Pointer[StaticSettingsProvider]
}

// NewNacosSettingsProvider 首次读取失败直接返回错误，之后的变更解析失败只记日志并保留旧配置
func NewNacosSettingsProvider(source ConfigSource, dataID, group string, fallback port.ModuleSettings) (*NacosSettingsProvider, error) {
	p := &NacosSettingsProvider{
		source:   source,
		param:    vo.ConfigParam{DataId: dataID, Group: group},
		fallback: fallback,
	}

	content, err := source.GetConfig(p.param)
	if err != nil {
		return nil, fmt.Errorf("nacos: get config %s/%s: %w", group, dataID, err)
	}
	if err := p.apply(content); err != nil {
		return nil, err
	}

	listen := p.param
	listen.OnChange = func(namespace, group, dataId, data string) {
		if err := p.apply(data); err != nil {
			logger.Ctx(context.Background()).Error().Err(err).Str("data_id", dataId).Msg("nacos: ignoring invalid settings update")
			return
		}
		logger.Ctx(context.Background()).Info().Str("data_id", dataId).Msg("nacos: module settings reloaded")
	}
	if err := source.ListenConfig(listen); err != nil {
		return nil, fmt.Errorf("nacos: listen config %s/%s: %w", group, dataID, err)
	}
	return p, nil
}

func (p *NacosSettingsProvider) apply(content string) error {
	var doc settingsDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("nacos: parse settings: %w", err)
	}
	p.current.Store(NewStaticSettingsProvider(doc.Modules, p.fallback))
	return nil
}

func (p *NacosSettingsProvider) Settings(ctx context.Context, q port.SettingsQuery) (port.ModuleSettings, error) {
	return p.current.Load().Settings(ctx, q)
}

// Close 取消监听
func (p *NacosSettingsProvider) Close() error {
	return p.source.CancelListenConfig(p.param)
}
