package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	global "PPRelay/global"
	appcfg "PPRelay/global/config"
	"PPRelay/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to yaml config (or PPRELAY_CONFIG)")
	flag.Parse()

	cfg, err := appcfg.Load(appcfg.ConfigPath(*configPath))
	if err != nil {
		logger.Error("[Boot] load config failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := global.ConfigAll(ctx, cfg)
	if err != nil {
		logger.Error("[Boot] assemble relay failed", zap.Error(err))
		os.Exit(1)
	}

	// 1) gRPC 健康检查
	var gs *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.Error("[gRPC] listen failed", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
			os.Exit(1)
		}
		gs = grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(gs, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus("pprelay.Relay", healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Info("[gRPC] listening", zap.String("addr", cfg.GRPC.Addr))
			if err := gs.Serve(lis); err != nil {
				logger.Error("[gRPC] serve failed", zap.Error(err))
			}
		}()
	}

	// 2) HTTP + WebSocket
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: app.Engine}
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.HTTP.Addr), zap.Bool("tls", cfg.HTTP.TLSCert != ""))
		var err error
		if cfg.HTTP.TLSCert != "" {
			err = srv.ListenAndServeTLS(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("[HTTP] serve failed", zap.Error(err))
			stop()
		}
	}()

	// 3) nacos 注册与配置监听
	if cfg.Nacos.Register {
		reg, err := appcfg.RegisterNacos(cfg)
		if err != nil {
			logger.Warn("[Nacos] register failed", zap.Error(err))
		} else {
			defer func() { _ = reg.Deregister() }()
		}
	}
	if cfg.Source == appcfg.SourceNacos && cfg.Nacos.Watch {
		w, err := appcfg.WatchNacos(*cfg, func(next *appcfg.AppConfig) {
			// 目前只有日志级别支持热更新
			logger.Init(next.Log.Level)
			logger.Info("[Nacos] config reloaded", zap.String("log_level", next.Log.Level))
		})
		if err != nil {
			logger.Warn("[Nacos] watch failed", zap.Error(err))
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	<-ctx.Done()
	logger.Info("[Boot] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[HTTP] shutdown", zap.Error(err))
	}
	if gs != nil {
		gs.GracefulStop()
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[Boot] relay shutdown", zap.Error(err))
	}
}
