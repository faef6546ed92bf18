package natsx

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Mode 发布模式
type Mode int

const (
	Core      Mode = iota // 无持久化
	JetStream             // 需要服务端已有覆盖该 subject 的 stream
)

// Route 路由配置（按 Biz 维度注册）
type Route struct {
	Biz     string
	Subject string
	Mode    Mode
}

// Config 客户端配置
type Config struct {
	Servers         []string      `mapstructure:"servers"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SubjectPrefix   string        `mapstructure:"subject_prefix"`
	JetStream       bool          `mapstructure:"jetstream"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PublishAsyncMax int           `mapstructure:"publish_async_max"`
}

// Client 统一客户端
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]Route // biz -> route
}

// Connect 连接 NATS
func Connect(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return &Client{cfg: cfg, nc: nc, routes: make(map[string]Route)}, nil
}

// Close 优雅关闭
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

// ensureJS 初始化 JetStream 上下文
func (c *Client) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

// RegisterRoute 注册 Biz 路由
func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	if r.Mode == JetStream {
		c.mu.Lock()
		err := c.ensureJS()
		c.mu.Unlock()
		if err != nil {
			return errors.Wrap(err, "init jetstream")
		}
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
