// Package global holds the process configuration.
package global

import (
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ys7zTS/sandbox/service/kafka"
	"github.com/ys7zTS/sandbox/service/mgo"
	"github.com/ys7zTS/sandbox/service/natsx"
	"github.com/ys7zTS/sandbox/service/storage/redis"
	"github.com/ys7zTS/sandbox/service/upload"
)

const EnvPrefix = "SANDBOX"

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type Config struct {
	Node    NodeConfig    `mapstructure:"node"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Log     LogConfig     `mapstructure:"log"`
	WS      WSConfig      `mapstructure:"ws"`
	Storage StorageConfig `mapstructure:"storage"`
	Mongo   mgo.Config    `mapstructure:"mongo"`
	Redis   redis.Config  `mapstructure:"redis"`
	NATS    natsx.Config  `mapstructure:"nats"`
	Kafka   kafka.Config  `mapstructure:"kafka"`
	Upload  upload.Config `mapstructure:"upload"`
}

// NodeConfig: ID 参与雪花 id 生成，多实例部署时需各不相同
type NodeConfig struct {
	ID int64 `mapstructure:"id"`
}

type HTTPConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// GRPCConfig: 空地址表示不启动健康检查服务
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type WSConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	SweepEvery     time.Duration `mapstructure:"sweep_every"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendQueue      int           `mapstructure:"send_queue"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit"`
}

type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Default is the configuration of a single local sandbox: SQLite, no
// brokers, no Redis.
func Default() Config {
	return Config{
		Node: NodeConfig{ID: 1},
		HTTP: HTTPConfig{Addr: ":8080"},
		GRPC: GRPCConfig{Addr: ":50051"},
		Log:  LogConfig{Level: "info"},
		WS: WSConfig{
			PingInterval:   30 * time.Second,
			PongTimeout:    60 * time.Second,
			IdleTimeout:    90 * time.Second,
			SweepEvery:     10 * time.Second,
			WriteWait:      10 * time.Second,
			SendQueue:      256,
			RequestTimeout: 10 * time.Second,
			ReadLimit:      1 << 20,
		},
		Storage: StorageConfig{Driver: DriverSQLite, SQLitePath: "sandbox.db"},
		Mongo:   mgo.Config{Database: "sandbox"},
		NATS:    natsx.Config{Name: "sandbox", SubjectPrefix: "sandbox"},
		Kafka:   kafka.Config{Topic: "sandbox.events"},
		Upload:  upload.Config{Dir: "temp", Route: "/temp", MaxSize: 32 << 20},
	}
}

// Load reads file (optional) and SANDBOX_* environment variables over the
// defaults. Flags bound to v take precedence over both.
func Load(v *viper.Viper, file string) (*Config, error) {
	def := Default()
	var defaults map[string]any
	if err := mapstructure.Decode(def, &defaults); err != nil {
		return nil, errors.Wrap(err, "flatten defaults")
	}
	setDefaults(v, "", defaults)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, cfg.Validate()
}

// setDefaults registers every leaf key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required")
		}
	case DriverMongo:
		if c.Mongo.URI == "" && len(c.Mongo.Address) == 0 {
			return errors.New("mongo.uri or mongo.address is required for the mongo driver")
		}
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required: identities stay in sqlite")
		}
	default:
		return errors.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	return nil
}
