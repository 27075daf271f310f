package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Registry RegistryConfig `mapstructure:"registry"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Events   EventsConfig   `mapstructure:"events"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// Addr 监听地址 host:port
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// EngineConfig 引擎工作进程配置
type EngineConfig struct {
	Command      string        `mapstructure:"command"`
	Args         []string      `mapstructure:"args"`
	Env          []string      `mapstructure:"env"`
	Extensions   []string      `mapstructure:"extensions"` // 支持的输入扩展名
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	LoadTimeout  time.Duration `mapstructure:"load_timeout"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
}

type RegistryConfig struct {
	MaxInstances int `mapstructure:"max_instances"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Namespace      string        `mapstructure:"namespace"`
	MemoryInterval time.Duration `mapstructure:"memory_interval"` // 内存采样间隔
}

// EventsConfig 会话事件分发配置
type EventsConfig struct {
	Buffer    int             `mapstructure:"buffer"`
	Journal   JournalConfig   `mapstructure:"journal"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// JournalConfig 事件日志数据库
type JournalConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, mysql
	Path     string `mapstructure:"path"` // sqlite DSN
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
}

type WebSocketConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WatchConfig 目录自动加载
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8651)
	v.SetDefault("server.mode", "release")

	v.SetDefault("engine.command", "jadx-engine-worker")
	v.SetDefault("engine.args", []string{})
	v.SetDefault("engine.extensions", []string{".apk", ".dex", ".jar"})
	v.SetDefault("engine.start_timeout", 30*time.Second)
	v.SetDefault("engine.load_timeout", 10*time.Minute)
	v.SetDefault("engine.call_timeout", 2*time.Minute)
	v.SetDefault("engine.stop_grace", 5*time.Second)

	v.SetDefault("registry.max_instances", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "jadxd")
	v.SetDefault("metrics.memory_interval", 30*time.Second)

	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.journal.enabled", true)
	v.SetDefault("events.journal.type", "sqlite")
	v.SetDefault("events.journal.path", "file::memory:?cache=shared")
	v.SetDefault("events.journal.port", 3306)
	v.SetDefault("events.rabbitmq.enabled", false)
	v.SetDefault("events.rabbitmq.host", "localhost")
	v.SetDefault("events.rabbitmq.port", 5672)
	v.SetDefault("events.rabbitmq.user", "guest")
	v.SetDefault("events.rabbitmq.password", "guest")
	v.SetDefault("events.rabbitmq.vhost", "/")
	v.SetDefault("events.rabbitmq.exchange", "jadxd.sessions")
	v.SetDefault("events.websocket.enabled", true)

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.dir", "./apks")
	v.SetDefault("watch.debounce", 2*time.Second)
}

// flagKeys 命令行参数到配置项的映射
var flagKeys = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"max-instances": "registry.max_instances",
	"engine":        "engine.command",
	"log-level":     "log.level",
	"watch-dir":     "watch.dir",
}

// Load 加载配置，优先级：命令行参数 > 环境变量 > 配置文件 > 默认值
//
// path 为空时不读取配置文件；flags 可以为 nil。
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// JADXD_SERVER_PORT 形式的环境变量覆盖任意配置项
	v.SetEnvPrefix("JADXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 与 MCP 代理共用的变量
	v.BindEnv("server.host", "JADXD_SERVER_HOST", "JADX_DAEMON_MCP_HOST")
	v.BindEnv("server.port", "JADXD_SERVER_PORT", "JADX_DAEMON_MCP_PORT")

	// RabbitMQ
	v.BindEnv("events.rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("events.rabbitmq.port", "RABBITMQ_PORT")
	v.BindEnv("events.rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("events.rabbitmq.password", "RABBITMQ_PASS")

	// 事件日志数据库
	v.BindEnv("events.journal.host", "MYSQL_HOST")
	v.BindEnv("events.journal.port", "MYSQL_PORT")
	v.BindEnv("events.journal.user", "MYSQL_USER")
	v.BindEnv("events.journal.password", "MYSQL_PASS")
	v.BindEnv("events.journal.db_name", "MYSQL_DB")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Registry.MaxInstances < 1 {
		return fmt.Errorf("registry.max_instances must be >= 1, got %d", c.Registry.MaxInstances)
	}
	switch c.Events.Journal.Type {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported events.journal.type %q", c.Events.Journal.Type)
	}
	if c.Watch.Enabled && c.Watch.Dir == "" {
		return fmt.Errorf("watch.dir is required when watch is enabled")
	}
	return nil
}
