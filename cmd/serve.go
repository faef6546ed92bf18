package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/global"
	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/middleware"
	"github.com/ys7zTS/sandbox/module/chat/directory"
	"github.com/ys7zTS/sandbox/module/chat/event"
	"github.com/ys7zTS/sandbox/module/chat/message"
	"github.com/ys7zTS/sandbox/module/chat/readstate"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/module/chat/store/mongostore"
	"github.com/ys7zTS/sandbox/module/chat/store/sqlstore"
	"github.com/ys7zTS/sandbox/service/chat"
	"github.com/ys7zTS/sandbox/service/chat/handlers"
	"github.com/ys7zTS/sandbox/service/kafka"
	"github.com/ys7zTS/sandbox/service/mgo"
	"github.com/ys7zTS/sandbox/service/natsx"
	"github.com/ys7zTS/sandbox/service/rpc"
	"github.com/ys7zTS/sandbox/service/storage"
	"github.com/ys7zTS/sandbox/service/storage/redis"
	"github.com/ys7zTS/sandbox/service/upload"
	"github.com/ys7zTS/sandbox/tools/ids"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandbox server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := global.Load(viper.GetViper(), cfgFile)
		if err != nil {
			return err
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			return errors.Wrapf(err, "log level %q", cfg.Log.Level)
		}
		defer logger.Sync()
		ids.SetNodeID(cfg.Node.ID)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := build(ctx, cfg)
		if err != nil {
			a.close()
			return err
		}
		return a.run(ctx)
	},
}

// app is one assembled sandbox process. closers run in reverse order.
type app struct {
	cfg     *global.Config
	reg     *chat.Registry
	web     *http.Server
	health  *rpc.HealthServer
	closers []func(ctx context.Context) error
	log     *zap.Logger
}

func (a *app) onClose(f func(ctx context.Context) error) { a.closers = append(a.closers, f) }

func build(ctx context.Context, cfg *global.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.Named("sandbox")}

	// identities always live in SQLite; conversations follow storage.driver
	db, err := sqlstore.Open(cfg.Storage.SQLitePath, logger.Log)
	if err != nil {
		return a, err
	}
	sqlStores := sqlstore.New(db)
	a.onClose(func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	var (
		conv  store.ConversationStore = sqlStores.Conversations
		reads store.ReadStateStore    = sqlStores.ReadStates
	)
	if cfg.Storage.Driver == global.DriverMongo {
		mdb, err := mgo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return a, err
		}
		a.onClose(func(ctx context.Context) error { return mdb.Client().Disconnect(ctx) })
		if err := mongostore.EnsureIndexes(ctx, mdb); err != nil {
			return a, err
		}
		conv = mongostore.NewConversationStore(mdb)
		reads = mongostore.NewReadStateStore(mdb)
	}

	var presence chat.Presence
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return a, err
		}
		a.onClose(func(context.Context) error { return rdb.Close() })
		presence = storage.NewRedisPresence(rdb, cfg.WS.IdleTimeout*2)
	}

	a.reg = chat.NewRegistry(chat.RegistryConf{
		IdleTimeout: cfg.WS.IdleTimeout,
		SweepEvery:  cfg.WS.SweepEvery,
		SendQueue:   cfg.WS.SendQueue,
	}, presence)

	bus := event.NewBus(chat.NewBroadcaster(a.reg, sqlStores.Identities))
	if err := a.relays(bus); err != nil {
		return a, err
	}

	tracker := readstate.New(reads)
	msgs := message.NewService(conv, sqlStores.Identities, bus)
	dir := directory.NewService(sqlStores.Identities, conv, reads, msgs, bus)

	disp := chat.NewDispatcher(cfg.WS.RequestTimeout)
	handlers.Register(disp, handlers.Deps{
		Messages:      msgs,
		Directory:     dir,
		Reads:         tracker,
		Conversations: conv,
	})
	srv := chat.NewServer(chat.Config{
		PingInterval: cfg.WS.PingInterval,
		PongTimeout:  cfg.WS.PongTimeout,
		WriteWait:    cfg.WS.WriteWait,
		ReadLimit:    cfg.WS.ReadLimit,
	}, a.reg, disp, chat.NewSyncer(sqlStores.Identities, conv, tracker), sqlStores.Identities)

	up, err := upload.New(cfg.Upload)
	if err != nil {
		return a, err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(logger.Named("http")), middleware.AccessLog(logger.Named("http")), middleware.Origin(cfg.HTTP.AllowOrigins...))
	r.GET("/", srv.HandleWS)
	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	up.Register(r)
	a.web = &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	if cfg.GRPC.Addr != "" {
		if a.health, err = rpc.Listen(cfg.GRPC.Addr); err != nil {
			return a, err
		}
	}
	return a, nil
}

// relays subscribes the optional broker relays. Each runs behind its own
// queue so a slow broker never holds up a send.
func (a *app) relays(bus *event.Bus) error {
	cfg := a.cfg
	if len(cfg.NATS.Servers) > 0 {
		nc, err := natsx.Connect(cfg.NATS)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return nc.Close() })
		mode := natsx.Core
		if cfg.NATS.JetStream {
			mode = natsx.JetStream
		}
		if err := natsx.RegisterEventRoutes(nc, cfg.NATS.SubjectPrefix, mode); err != nil {
			return err
		}
		q := event.NewAsync("nats", natsx.NewRelay(nc), 0)
		a.onClose(q.Close)
		bus.Subscribe(q)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return p.Close() })
		q := event.NewAsync("kafka", kafka.NewRelay(p, cfg.Kafka.Topic), 0)
		a.onClose(q.Close)
		bus.Subscribe(q)
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	a.reg.Start()
	errCh := make(chan error, 2)
	go func() {
		a.log.Info("sandbox listening", zap.String("addr", a.cfg.HTTP.Addr), zap.String("storage", a.cfg.Storage.Driver))
		if err := a.web.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "http serve")
		}
	}()
	if a.health != nil {
		go func() {
			if err := a.health.Serve(); err != nil {
				errCh <- errors.Wrap(err, "grpc serve")
			}
		}()
		a.health.SetServing(true)
	}

	var err error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err = <-errCh:
		a.log.Error("server failed", zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.health != nil {
		a.health.SetServing(false)
	}
	if serr := a.web.Shutdown(sctx); serr != nil {
		a.log.Warn("http shutdown", zap.Error(serr))
	}
	a.reg.Close()
	if a.health != nil {
		a.health.Stop()
	}
	a.closeWith(sctx)
	return err
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.closeWith(ctx)
}

func (a *app) closeWith(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("close", zap.Error(err))
		}
	}
	a.closers = nil
}
