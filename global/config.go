package global

import (
	"context"
	"strings"
	"time"

	"PPRelay/data/database/mgo/mongoutil"
	appcfg "PPRelay/global/config"
	"PPRelay/logger"
	mid "PPRelay/middleware"
	midsec "PPRelay/middleware/security"
	"PPRelay/service/api"
	"PPRelay/service/chat"
	"PPRelay/service/chat/handlers"
	ka "PPRelay/service/kafka"
	"PPRelay/service/natsx"
	"PPRelay/service/storage"
	"PPRelay/service/storage/memstore"
	"PPRelay/service/storage/mgo"
	"PPRelay/service/storage/postgres"
	redisx "PPRelay/service/storage/redis"
	"PPRelay/service/storage/sqlite"
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App 一个 relay 节点运行所需的全部组件
type App struct {
	Cfg      *appcfg.AppConfig
	Store    storage.Store
	Server   *chat.Server
	Engine   *gin.Engine
	Registry *prometheus.Registry
	Issuer   *security.Issuer

	rdb    *redis.Client
	sink   chat.EventSink
	cancel context.CancelFunc
}

// ConfigAll 按配置装配存储、在线镜像、事件投递、网关和 HTTP 路由。
// 任何一步失败都会回收已经建立的连接。
func ConfigAll(ctx context.Context, cfg *appcfg.AppConfig) (_ *App, err error) {
	ConfigIds(cfg.NodeID)

	app := &App{Cfg: cfg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()

	st, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	app.Store = st
	var mirror chat.PresenceMirror
	var presence *storage.RedisPresence
	if cfg.Redis.Addr != "" {
		if app.rdb, err = ConfigRedis(cfg.Redis); err != nil {
			return nil, err
		}
		presence = storage.NewRedisPresence(app.rdb, cfg.NodeID, cfg.Redis.PresenceTTL)
		mirror = presence
	}
	sink, err := ConfigEvents(cfg.Events, app.rdb, cfg.NodeID, cfg.Storage.Timeout)
	if err != nil {
		return nil, err
	}
	app.sink = sink
	if cfg.Security.JWTSecret != "" {
		opts := security.DefaultOptions([]byte(cfg.Security.JWTSecret))
		if cfg.Security.JWTTTL > 0 {
			opts.TTL = cfg.Security.JWTTTL
		}
		app.Issuer = security.NewIssuer(opts)
	}

	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := chat.Deps{
		Store:   app.Store,
		Hasher:  security.NewBcryptHasher(cfg.Security.BcryptCost),
		Mirror:  mirror,
		Sink:    app.sink,
		Metrics: chat.NewMetrics(app.Registry),
	}
	// 避免 nil *Issuer 装进接口
	if app.Issuer != nil {
		deps.Tokens = app.Issuer
	}
	app.Server = chat.NewServer(GatewayOptions(cfg), deps)
	handlers.RegisterAll(app.Server.ChatContext())

	if presence != nil {
		var keepCtx context.Context
		keepCtx, app.cancel = context.WithCancel(context.Background())
		safe.SafeGo("presence keepalive", func() {
			presence.KeepAlive(keepCtx, app.Server.OnlineUserIDs)
		})
	}

	app.Engine = ConfigMiddleware(app)
	logger.Info("[Boot] relay assembled",
		zap.String("node_id", cfg.NodeID),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.Bool("redis", app.rdb != nil))
	return app, nil
}

func ConfigIds(nodeID string) {
	ids.SetNodeID(NodeNumber(nodeID))
}

// GatewayOptions 把配置转换成网关参数
func GatewayOptions(cfg *appcfg.AppConfig) chat.Options {
	g := cfg.Gateway
	return chat.Options{
		WriteWait:             g.WriteWait,
		PingInterval:          g.PingInterval,
		MaxMessageSize:        g.MaxMessageSize,
		MaxQueue:              g.MaxQueue,
		RateLimit:             g.RateLimit,
		RateBurst:             g.RateBurst,
		MaxHistoryLimit:       g.MaxHistoryLimit,
		RejectUnauthenticated: g.RejectUnauthenticated,
		StoreTimeout:          cfg.Storage.Timeout,
		AllowOrigins:          cfg.HTTP.AllowOrigins,
	}
}

// OpenStore 根据 storage.driver 打开对应的存储实现
func OpenStore(ctx context.Context, c appcfg.StorageConfig) (storage.Store, error) {
	switch c.Driver {
	case "", "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlite.Open(c.SQLitePath)
	case "postgres":
		if c.PostgresDSN == "" {
			return nil, errors.New("storage.postgres_dsn is empty")
		}
		return postgres.Open(ctx, c.PostgresDSN, c.MaxPoolSize)
	case "mongo":
		if c.MongoURI == "" {
			return nil, errors.New("storage.mongo_uri is empty")
		}
		return mgo.Open(ctx, &mongoutil.Config{
			Uri:         c.MongoURI,
			Database:    c.MongoDatabase,
			Username:    c.MongoUsername,
			Password:    c.MongoPassword,
			MaxPoolSize: c.MaxPoolSize,
			MaxRetry:    3,
		})
	default:
		return nil, errors.Errorf("unknown storage driver %q", c.Driver)
	}
}

func ConfigRedis(c appcfg.RedisConfig) (*redis.Client, error) {
	return redisx.NewClient(redisx.Config{Addr: c.Addr, Password: c.Password, DB: c.DB})
}

// ConfigEvents 建立消息镜像的投递通道；driver 为空时返回 nil（不镜像）
func ConfigEvents(c appcfg.EventsConfig, rdb *redis.Client, nodeID string, timeout time.Duration) (chat.EventSink, error) {
	switch c.Driver {
	case "":
		return nil, nil
	case "nats":
		mode := natsx.Core
		if c.NatsJetStream {
			mode = natsx.JetStream
		}
		cli, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: strings.Split(c.NatsURL, ","),
			Name:    "pprelay-" + nodeID,
			Subject: c.NatsSubject,
			Mode:    mode,
		})
		if err != nil {
			return nil, err
		}
		return natsx.NewSink(cli), nil
	case "kafka":
		kc := ka.DefaultConfig(c.KafkaBrokers, c.KafkaTopic)
		kc.ProduceTimeout = timeout
		return ka.NewSink(kc)
	case "redis":
		if rdb == nil {
			return nil, errors.New("events.driver=redis needs redis.addr")
		}
		return storage.NewRedisStreamSink(rdb), nil
	default:
		return nil, errors.Errorf("unknown events driver %q", c.Driver)
	}
}

// ConfigMiddleware 组装 gin 引擎：全局中间件、/ws、只读 API、/metrics
func ConfigMiddleware(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog())

	mgr := mid.NewManager()
	mgr.Add(mid.Cors(app.Cfg.HTTP.AllowOrigins))
	r.Use(mgr.Use())

	r.GET("/ws", app.Server.HandleWS)

	var auth *midsec.Options
	if app.Cfg.HTTP.RequireToken && app.Issuer != nil {
		auth = midsec.DefaultOptions(app.Issuer)
	}
	api.New(app.Store, app.Server.Presence(), api.Options{
		MaxLimit: app.Cfg.Gateway.MaxHistoryLimit,
		Timeout:  app.Cfg.Storage.Timeout,
	}).Mount(r, auth)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))
	return r
}

// Shutdown 先停网关会话，再关闭下游连接
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)
	a.closeResources()
	return err
}

func (a *App) closeResources() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			logger.Warn("[Boot] close event sink failed", zap.Error(err))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warn("[Boot] close store failed", zap.Error(err))
		}
	}
}
