// 程序入口：仅负责读取配置、初始化依赖并启动宿主接口；路由注册在 internal/api
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"incident-map/internal/api"
	"incident-map/internal/config"
	"incident-map/internal/feed"
	"incident-map/internal/layer"
	"incident-map/internal/logger"
	"incident-map/internal/metrics"
	"incident-map/internal/middleware"
	"incident-map/internal/migrate"
	"incident-map/internal/readiness"
	"incident-map/internal/utils"
	"incident-map/internal/widget"
)

func main() {
	config.LoadEnvFiles()
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	st := config.FromEnv()
	l.Debug("config_loaded", "addr", st.Addr, "api_base", st.APIBase, "layer_url", st.Props.LayerURL, "feed_url", st.Props.FeedURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	if db == nil {
		l.Info("db_disabled")
	} else {
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
	}

	// 事件源缓存：优先 Redis，未配置或不可用时退回进程内 LRU
	var cache feed.Cache = feed.NewLRU(64)
	if rc := utils.OpenRedisFromEnv(); rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(ctx).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
		_ = rc.Close()
	} else {
		l.Info("redis_ping_ok")
		defer rc.Close()
		cache = feed.NewRedisCache(rc)
	}

	catalog := layer.NewCatalog(nil)
	reg := readiness.Init(catalog.Load, readiness.WithTimeout(st.LoadTimeout), readiness.WithContext(ctx))
	w := widget.New(st.Props, widget.Deps{
		Registry:    reg,
		Catalog:     catalog,
		Adapter:     feed.NewAdapter(nil, cache, st.FeedCacheTTL, st.FetchTimeout),
		EditTimeout: st.EditTimeout,
	})

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(&api.Host{Widget: w, DB: db})
	mux.Handle(st.APIBase+"/", http.StripPrefix(st.APIBase, apiMux))
	mux.Handle(st.APIBase+"/metrics", metrics.Handler())

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.RateLimit(st.RateLimitQPS, handler)
	s := &http.Server{Addr: st.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()
	l.Info("listening", "addr", st.Addr, "widget", w.ID())
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown")
}
