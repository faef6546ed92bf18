package mgo

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 5
)

// Config represents the MongoDB configuration.
type Config struct {
	URI         string        `mapstructure:"uri"`
	Address     []string      `mapstructure:"address"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	AuthSource  string        `mapstructure:"auth_source"`
	MaxPoolSize int           `mapstructure:"max_pool_size"`
	MaxRetry    int           `mapstructure:"max_retry"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (c *Config) validateAndSetDefaults() error {
	if c.URI == "" && len(c.Address) == 0 {
		return errors.New("mongo uri or address is required")
	}
	if c.Database == "" {
		c.Database = "sandbox"
	}
	if c.AuthSource == "" {
		c.AuthSource = "admin"
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return nil
}

// 将 Config 应用到 ClientOptions
func (c *Config) clientOptions() *options.ClientOptions {
	opts := options.Client()
	if c.URI != "" {
		// 优先使用完整 URI
		opts.ApplyURI(c.URI)
	} else {
		opts.SetHosts(c.Address)
	}
	opts.SetMaxPoolSize(uint64(c.MaxPoolSize))
	opts.SetServerSelectionTimeout(c.Timeout)
	if c.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   c.Username,
			Password:   c.Password,
			AuthSource: c.AuthSource,
		})
	}
	return opts
}

// Connect dials MongoDB with exponential backoff and returns the configured
// database once a ping succeeds.
func Connect(ctx context.Context, cfg Config) (*mongo.Database, error) {
	if err := cfg.validateAndSetDefaults(); err != nil {
		return nil, err
	}
	const (
		baseBackoff = 200 * time.Millisecond
		maxBackoff  = 5 * time.Second
	)

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetry; attempt++ {
		cli, err := connectMongo(ctx, cfg.clientOptions(), cfg.Timeout)
		if err == nil {
			logger.Info("mongo connected", zap.String("database", cfg.Database), zap.Int("attempt", attempt+1))
			return cli.Database(cfg.Database), nil
		}
		lastErr = err
		if !shouldRetry(ctx, err) {
			break
		}

		// 退避 + 抖动
		backoff := baseBackoff << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		sleep := backoff - time.Duration(rand.Int63n(int64(backoff/5)))/2
		logger.Warn("mongo connect failed, retrying", zap.Error(err), zap.Duration("backoff", sleep))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ctx.Err(), "connect mongo")
		case <-timer.C:
		}
	}
	return nil, errors.Wrap(lastErr, "connect mongo")
}

func connectMongo(ctx context.Context, opts *options.ClientOptions, timeout time.Duration) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := cli.Ping(pingCtx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// shouldRetry determines whether an error should trigger a retry.
func shouldRetry(ctx context.Context, err error) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) {
			// 13: Unauthorized, 18: AuthenticationFailed
			return cmdErr.Code != 13 && cmdErr.Code != 18
		}
		return true
	}
}
