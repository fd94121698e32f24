package server

import (
	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module(config HttpConfig) fx.Option {
	return fx.Module("server",
		// provide config
		fx.Supply(config),
		// provide status handlers
		fx.Provide(
			func(s *supervisor.Supervisor, log *zap.Logger) HttpHandlerResult {
				return AsHttpHandler("/status", NewStatusHandler(s, log))
			},
			func(s *supervisor.Supervisor) HealthHandlerResult {
				health := NewHealthHandler(s)
				return HealthHandlerResult{
					Live:  &HttpHandler{Name: "/live", Handler: health},
					Ready: &HttpHandler{Name: "/ready", Handler: health},
				}
			},
			func(g prometheus.Gatherer) HttpHandlerResult {
				return AsHttpHandler("/metrics", NewMetricsHandler(g))
			},
		),
		// provide server
		fx.Provide(NewLifecycleServer),
		// invoke server
		fx.Invoke(func(*HttpServer) {}),
	)
}
