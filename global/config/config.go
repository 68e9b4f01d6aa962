package config

import (
	"os"
	"strings"
	"time"

	"PPRelay/tools/decode"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PPRELAY_"

const (
	SourceFile  = "file"
	SourceNacos = "nacos"
)

type HTTPConfig struct {
	Addr         string   `yaml:"addr" mapstructure:"addr"`
	TLSCert      string   `yaml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey       string   `yaml:"tls_key" mapstructure:"tls_key"`
	RequireToken bool     `yaml:"require_token" mapstructure:"require_token"`
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins"` // 空 = 任意来源
}

type GRPCConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // 空则不启动
}

type GatewayConfig struct {
	WriteWait             time.Duration `yaml:"write_wait" mapstructure:"write_wait"`
	PingInterval          time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	MaxMessageSize        int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	MaxQueue              int           `yaml:"max_queue" mapstructure:"max_queue"`   // 0 = 不限
	RateLimit             float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // events/sec, 0 = 不限
	RateBurst             int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxHistoryLimit       int           `yaml:"max_history_limit" mapstructure:"max_history_limit"`
	RejectUnauthenticated bool          `yaml:"reject_unauthenticated" mapstructure:"reject_unauthenticated"`
}

type StorageConfig struct {
	Driver        string        `yaml:"driver" mapstructure:"driver"` // memory | sqlite | postgres | mongo
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SQLitePath    string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PostgresDSN   string        `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	MongoURI      string        `yaml:"mongo_uri" mapstructure:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database" mapstructure:"mongo_database"`
	MongoUsername string        `yaml:"mongo_username" mapstructure:"mongo_username"`
	MongoPassword string        `yaml:"mongo_password" mapstructure:"mongo_password"`
	MaxPoolSize   int           `yaml:"max_pool_size" mapstructure:"max_pool_size"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr" mapstructure:"addr"` // 空则不镜像在线状态
	Password    string        `yaml:"password" mapstructure:"password"`
	DB          int           `yaml:"db" mapstructure:"db"`
	PresenceTTL time.Duration `yaml:"presence_ttl" mapstructure:"presence_ttl"`
}

type EventsConfig struct {
	Driver        string   `yaml:"driver" mapstructure:"driver"` // "" | nats | kafka | redis
	NatsURL       string   `yaml:"nats_url" mapstructure:"nats_url"`
	NatsSubject   string   `yaml:"nats_subject" mapstructure:"nats_subject"`
	NatsJetStream bool     `yaml:"nats_jetstream" mapstructure:"nats_jetstream"`
	KafkaBrokers  []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic" mapstructure:"kafka_topic"`
}

type SecurityConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTTTL     time.Duration `yaml:"jwt_ttl" mapstructure:"jwt_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

type NacosConfig struct {
	Host      string `yaml:"host" mapstructure:"host"`
	Port      uint64 `yaml:"port" mapstructure:"port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	DataID    string `yaml:"data_id" mapstructure:"data_id"`
	Group     string `yaml:"group" mapstructure:"group"`
	Username  string `yaml:"username" mapstructure:"username"`
	Password  string `yaml:"password" mapstructure:"password"`
	Watch     bool   `yaml:"watch" mapstructure:"watch"`
	// Register 把本节点注册到 nacos naming
	Register    bool   `yaml:"register" mapstructure:"register"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	AdvertiseIP string `yaml:"advertise_ip" mapstructure:"advertise_ip"`
}

type AppConfig struct {
	NodeID   string         `yaml:"node_id" mapstructure:"node_id"` // 节点ID
	Source   string         `yaml:"source" mapstructure:"source"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	GRPC     GRPCConfig     `yaml:"grpc" mapstructure:"grpc"`
	Gateway  GatewayConfig  `yaml:"gateway" mapstructure:"gateway"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
	Security SecurityConfig `yaml:"security" mapstructure:"security"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Nacos    NacosConfig    `yaml:"nacos" mapstructure:"nacos"`
}

// Default 单机默认配置：内存存储，不开启 redis / 消息镜像。
func Default() AppConfig {
	return AppConfig{
		NodeID: "relay_01",
		Source: SourceFile,
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Gateway: GatewayConfig{
			WriteWait:       10 * time.Second,
			PingInterval:    30 * time.Second,
			MaxMessageSize:  16 << 20,
			RateBurst:       20,
			MaxHistoryLimit: 200,
		},
		Storage: StorageConfig{
			Driver:        "memory",
			Timeout:       5 * time.Second,
			SQLitePath:    "pprelay.db",
			MongoDatabase: "pprelay",
			MaxPoolSize:   20,
		},
		Redis: RedisConfig{
			PresenceTTL: 2 * time.Minute,
		},
		Events: EventsConfig{
			NatsSubject: "pprelay.messages",
			KafkaTopic:  "pprelay_messages",
		},
		Security: SecurityConfig{
			JWTTTL:     24 * time.Hour,
			BcryptCost: 10,
		},
		Log: LogConfig{Level: "info"},
		Nacos: NacosConfig{
			Host:        "127.0.0.1",
			Port:        8848,
			Namespace:   "public",
			DataID:      "pprelay.yaml",
			Group:       "DEFAULT_GROUP",
			ServiceName: "pprelay",
			AdvertiseIP: "127.0.0.1",
		},
	}
}

// Load 按 默认值 -> 配置文件 -> nacos -> 环境变量 的顺序合并配置。
// path 为空时跳过文件层；文件不存在视为错误。
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := ApplyYAML(&cfg, b); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// .env 只补充未设置的变量
	_ = godotenv.Load()

	// nacos 连接参数本身也可以来自环境变量，先合并一次
	if err := ApplyEnv(&cfg, os.Environ()); err != nil {
		return nil, err
	}
	if cfg.Source == SourceNacos {
		content, err := FetchNacos(cfg.Nacos)
		if err != nil {
			return nil, errors.Wrap(err, "fetch nacos config")
		}
		if err := ApplyYAML(&cfg, []byte(content)); err != nil {
			return nil, errors.Wrap(err, "parse nacos config")
		}
		// 环境变量优先级最高
		if err := ApplyEnv(&cfg, os.Environ()); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyYAML 把 yaml 文档覆盖到 cfg 上，文档中未出现的字段保持不变。
func ApplyYAML(cfg *AppConfig, b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return yaml.Unmarshal(b, cfg)
}

// ApplyEnv 解析 PPRELAY_<SECTION>_<KEY>=value 形式的变量并覆盖到 cfg 上。
// 不属于任何 section 的变量按顶层字段处理，例如 PPRELAY_NODE_ID。
func ApplyEnv(cfg *AppConfig, environ []string) error {
	tree := envTree(environ)
	if len(tree) == 0 {
		return nil
	}
	opts := decode.WithWeaklyTypedInput(true)
	opts.TagName = "mapstructure"
	if err := decode.Into(tree, cfg, opts); err != nil {
		return errors.Wrap(err, "apply env")
	}
	return nil
}

var sections = []string{"http", "grpc", "gateway", "storage", "redis", "events", "security", "log", "nacos"}

func envTree(environ []string) map[string]any {
	tree := map[string]any{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
		if name == "config" {
			continue
		}
		placed := false
		for _, s := range sections {
			if key, found := strings.CutPrefix(name, s+"_"); found && key != "" {
				sub, _ := tree[s].(map[string]any)
				if sub == nil {
					sub = map[string]any{}
					tree[s] = sub
				}
				sub[key] = v
				placed = true
				break
			}
		}
		if !placed {
			tree[name] = v
		}
	}
	return tree
}

func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres", "mongo":
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Events.Driver {
	case "", "nats", "kafka":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("events.driver=redis needs redis.addr")
		}
	default:
		return errors.Errorf("unknown events driver %q", c.Events.Driver)
	}
	if (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == "") {
		return errors.New("http.tls_cert and http.tls_key must be set together")
	}
	if c.HTTP.RequireToken && c.Security.JWTSecret == "" {
		return errors.New("http.require_token needs security.jwt_secret")
	}
	if c.Gateway.MaxHistoryLimit <= 0 {
		c.Gateway.MaxHistoryLimit = 200
	}
	if c.Storage.Timeout <= 0 {
		c.Storage.Timeout = 5 * time.Second
	}
	return nil
}

// ConfigPath 命令行参数优先，其次 PPRELAY_CONFIG。
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvPrefix + "CONFIG")
}
