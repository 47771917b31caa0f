package health

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	collector "ev_scanner/internal/modules/collector/service"
	"ev_scanner/internal/modules/config"
	"ev_scanner/internal/modules/health/service"
	scanner "ev_scanner/internal/modules/scanner/service"
	store "ev_scanner/internal/modules/store/service"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: net.JoinHostPort(cfg.Service.Host, strconv.Itoa(cfg.Service.Port))}
}

func NewMux(state *service.State, api *API) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: юниверс загружен, фид поднят
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if api != nil {
		api.register(mux)
	}
	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			log.Info("api server started", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("api server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
			func(cfg *config.Config, state *service.State, sc *scanner.Service, c *collector.Collector, st store.Store, log *zap.Logger) *API {
				if cfg.Service.APIKey == "" {
					log.Warn("service.api_key is empty, POST routes will reject every request")
				}
				api := NewAPI(cfg.Service.APIKey, state, sc, c, st, log.Named("api"))
				if cfg.Service.RateLimitPerMin > 0 {
					api.WithRateLimit(NewRateLimiter(cfg.Service.RateLimitPerMin))
				}
				return api
			},
		),
		fx.Invoke(RunHTTP),
	)
}
