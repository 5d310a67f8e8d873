// Package nacos 封装 Nacos 命名服务和配置中心客户端
package nacos

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"

	"bargain/internal/pkg/logger"
)

const defaultGroup = "DEFAULT_GROUP"

// Config 是连接 Nacos 所需的参数
type Config struct {
	ServerAddrs string `yaml:"server_addrs"` // "ip1:port1,ip2:port2"
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	LogDir      string `yaml:"log_dir"`
	CacheDir    string `yaml:"cache_dir"`
	TimeoutMs   uint64 `yaml:"timeout_ms"`
}

// Client 同时持有命名客户端和配置客户端
type Client struct {
	naming naming_client.INamingClient
	config config_client.IConfigClient
	group  string
}

// ParseServerAddrs 解析 "host:port,host:port"
func ParseServerAddrs(addrs string) ([]constant.ServerConfig, error) {
	var out []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, portStr, ok := strings.Cut(addr, ":")
		if !ok || host == "" {
			return nil, fmt.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", portStr)
		}
		out = append(out, *constant.NewServerConfig(host, port))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no nacos server address configured")
	}
	return out, nil
}

// NewClient 创建命名客户端和配置客户端
func NewClient(cfg Config) (*Client, error) {
	ctx := context.Background()
	serverConfigs, err := ParseServerAddrs(cfg.ServerAddrs)
	if err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		logger.Ctx(ctx).Warn().Msg("nacos namespace is not set, using the public namespace")
	}
	group := cfg.Group
	if group == "" {
		group = defaultGroup
	}
	logDir, cacheDir := cfg.LogDir, cfg.CacheDir
	if logDir == "" {
		logDir = "/tmp/nacos/log"
	}
	if cacheDir == "" {
		cacheDir = "/tmp/nacos/cache"
	}
	timeout := cfg.TimeoutMs
	if timeout == 0 {
		timeout = 5000
	}

	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir(logDir),
		constant.WithCacheDir(cacheDir),
		constant.WithLogLevel("warn"),
		constant.WithTimeoutMs(timeout),
		constant.WithNamespaceId(cfg.Namespace),
	)
	param := vo.NacosClientParam{ClientConfig: &clientConfig, ServerConfigs: serverConfigs}

	naming, err := clients.NewNamingClient(param)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos naming client: %w", err)
	}
	config, err := clients.NewConfigClient(param)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos config client: %w", err)
	}

	logger.Ctx(ctx).Info().Str("servers", cfg.ServerAddrs).Str("group", group).Msg("connected to nacos")
	return &Client{naming: naming, config: config, group: group}, nil
}

// Group 返回默认分组
func (c *Client) Group() string { return c.group }

// ConfigClient 返回配置中心客户端，用于读取和监听模块配置
func (c *Client) ConfigClient() config_client.IConfigClient { return c.config }

// RegisterServiceInstance 注册一个临时实例，心跳断开后自动摘除
func (c *Client) RegisterServiceInstance(serviceName, ip string, port int) error {
	success, err := c.naming.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		GroupName:   c.group,
	})
	if err != nil {
		return fmt.Errorf("failed to register service with nacos: %w", err)
	}
	if !success {
		return fmt.Errorf("nacos registration was not successful for service: %s", serviceName)
	}
	logger.Ctx(context.Background()).Info().Str("service", serviceName).Str("ip", ip).Int("port", port).
		Msg("service registered to nacos")
	return nil
}

// DeregisterServiceInstance 从 Nacos 注销实例
func (c *Client) DeregisterServiceInstance(serviceName, ip string, port int) error {
	_, err := c.naming.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Ephemeral:   true,
		GroupName:   c.group,
	})
	if err != nil {
		return fmt.Errorf("failed to deregister service with nacos: %w", err)
	}
	logger.Ctx(context.Background()).Info().Str("service", serviceName).Msg("service deregistered from nacos")
	return nil
}

// DiscoverServiceInstance 使用 Nacos 内置负载均衡选一个健康实例，返回 "http://ip:port"
func (c *Client) DiscoverServiceInstance(serviceName string) (string, error) {
	instance, err := c.naming.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: serviceName,
		GroupName:   c.group,
	})
	if err != nil {
		return "", fmt.Errorf("failed to discover healthy instance for service '%s': %w", serviceName, err)
	}
	if instance == nil {
		return "", fmt.Errorf("no healthy instance available for service '%s'", serviceName)
	}
	return fmt.Sprintf("http://%s:%d", instance.Ip, instance.Port), nil
}

// Close 关闭配置客户端。命名客户端的临时节点会在心跳停止后过期。
func (c *Client) Close() {
	if c.config != nil {
		c.config.CloseClient()
	}
}
