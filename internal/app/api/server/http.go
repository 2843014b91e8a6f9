package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/settle/docs"
	"github.com/fatflowers/settle/internal/app/api/handlers"
	mw "github.com/fatflowers/settle/internal/app/api/middleware"
	"github.com/fatflowers/settle/internal/app/service/checkout"
	"github.com/fatflowers/settle/internal/app/service/fulfillment"
	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/reconciler"
	"github.com/fatflowers/settle/internal/app/service/statistics"
	"github.com/fatflowers/settle/internal/app/service/webhook"
	cfgpkg "github.com/fatflowers/settle/pkg/config"
	metrics "github.com/fatflowers/settle/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Engine      *gin.Engine
	Log         *zap.SugaredLogger
	Config      *cfgpkg.Config
	Gateways    *gateway.Registry
	Journey     *journey.Journey
	Checkout    *checkout.Service
	Webhooks    *webhook.Ingestor
	Reconciler  *reconciler.Reconciler
	Fulfillment *fulfillment.Service
	Statistics  *statistics.Service
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Config

	if cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			Subsystem:   "settle",
			MetricsList: metrics.DomainMetrics,
			Logger:      log,
		})
		prom.SetListenAddress(cfg.MetricsAddr)
		prom.Use(r)
		p.Lifecycle.Append(fx.Hook{OnStop: prom.Shutdown})

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub, p.Gateways.Rails)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())

	handlers.RegisterPaymentRoutes(apiV1.Group("/payment"), p.Checkout, p.Webhooks, p.Fulfillment, log)

	admin := handlers.AdminDeps{Journey: p.Journey, Refunder: p.Reconciler, Statistics: p.Statistics}
	if !handlers.RegisterAdminRoutes(apiV1.Group("/admin"), cfg.Admin.Accounts, admin, log) {
		log.Infow("admin routes disabled", "reason", "no admin accounts configured")
	}
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine, sd fx.Shutdowner) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr, "env", cfg.Env)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("server error", "error", err)
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			// in-flight verify calls are bounded by the gateway timeout
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Gateway.Timeout+5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
