package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bargain/internal/pkg/logger"
	"bargain/internal/pkg/nacos"
)

// AppConfig 是所有服务共用的基础设施配置。业务配置由各服务自己的结构体从同一个文件读取。
type AppConfig struct {
	Service   ServiceConfig   `yaml:"service"`
	Log       logger.Config   `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type NacosConfig struct {
	Enabled      bool `yaml:"enabled"`
	nacos.Config `yaml:",inline"`
	// SettingsDataID 模块配置在配置中心的 dataId，为空时不从 Nacos 读取
	SettingsDataID string `yaml:"settings_data_id"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
}

type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	AnalyticsTopic string   `yaml:"analytics_topic"`
	PriceLockTopic string   `yaml:"price_lock_topic"`
	ConsumerGroup  string   `yaml:"consumer_group"`
}

type MySQLConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	LockRoot       string        `yaml:"lock_root"`
}

// Default 返回编译期默认值，所有外部依赖默认关闭
func Default() AppConfig {
	return AppConfig{
		Service: ServiceConfig{Name: "bargain-service", Port: 8080, ShutdownTimeout: 10 * time.Second},
		Log:     logger.Config{Level: "info"},
		Tracing: TracingConfig{SampleRatio: 1},
		Nacos: NacosConfig{
			Config:         nacos.Config{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			SettingsDataID: "bargain-settings.yaml",
		},
		Kafka: KafkaConfig{
			AnalyticsTopic: "bargain.analytics",
			PriceLockTopic: "bargain.price-locked",
			ConsumerGroup:  "bargain-analytics-consumer",
		},
		MySQL:     MySQLConfig{Port: 3306, MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLife: time.Hour},
		ZooKeeper: ZooKeeperConfig{SessionTimeout: 10 * time.Second, LockRoot: "/bargain/locks"},
	}
}

var current atomic.Pointer[AppConfig]

// Init 依次加载 .env、YAML 文件(CONFIG_FILE)和环境变量。ext 非空时同一个文件也会解析到 ext 中。
func Init(ext interface{}) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	path := getEnv("CONFIG_FILE", "configs/bargain.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, &cfg, ext); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	current.Store(&cfg)
	return &cfg, nil
}

// Parse 把 YAML 同时解析到基础配置和扩展配置
func Parse(data []byte, cfg *AppConfig, ext interface{}) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	if ext != nil {
		if err := yaml.Unmarshal(data, ext); err != nil {
			return err
		}
	}
	return nil
}

// GetCurrentConfig 返回最近一次 Init 的结果，未初始化时返回默认值
func GetCurrentConfig() AppConfig {
	if c := current.Load(); c != nil {
		return *c
	}
	return Default()
}

func applyEnv(c *AppConfig) {
	c.Service.Name = getEnv("SERVICE_NAME", c.Service.Name)
	c.Service.Port = getEnvInt("HTTP_PORT", c.Service.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Tracing.Endpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.Endpoint)

	c.Nacos.Enabled = getEnvBool("NACOS_ENABLED", c.Nacos.Enabled)
	c.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Nacos.ServerAddrs)
	c.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Nacos.Namespace)
	c.Nacos.Group = getEnv("NACOS_GROUP", c.Nacos.Group)

	c.Redis.Addrs = getEnv("REDIS_ADDRS", c.Redis.Addrs)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Kafka.Brokers = splitList(v)
	}

	c.MySQL.Host = getEnv("MYSQL_HOST", c.MySQL.Host)
	c.MySQL.Port = getEnvInt("MYSQL_PORT", c.MySQL.Port)
	c.MySQL.User = getEnv("MYSQL_USER", c.MySQL.User)
	c.MySQL.Password = getEnv("MYSQL_PASSWORD", c.MySQL.Password)
	c.MySQL.Database = getEnv("MYSQL_DATABASE", c.MySQL.Database)

	if v := getEnv("ZK_SERVERS", ""); v != "" {
		c.ZooKeeper.Servers = splitList(v)
	}
}

// getEnv 从环境变量中读取配置
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
