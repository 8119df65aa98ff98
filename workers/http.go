package workers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gobridgetracker/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

type ServerConfig struct {
	UseSSL bool
	Port   int
}

func NewRouter(api *handlers.API, websocket http.HandlerFunc, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/state", api.State)
	r.Get("/health", api.HealthCheck)

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", api.SubmitTransfer)
		r.Get("/", api.GetTransfers)
		r.Get("/{id}", api.GetTransfer)
		r.Post("/{id}/refresh", api.RefreshTransfer)
		r.Post("/{id}/claim", api.ClaimTransfer)
	})

	r.Get("/attestations/{messageHash}", api.GetAttestation)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", api.GetNotifications)
		r.Get("/unseen", api.GetUnseenNotifications)
		r.Post("/seen", api.MarkSeen)
		if websocket != nil {
			r.Get("/ws", websocket)
		}
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// ServeHTTP runs the API until ctx is done, then shuts down gracefully.
func ServeHTTP(ctx context.Context, cfg ServerConfig, handler http.Handler, logger *zap.Logger) error {
	var server *http.Server

	if cfg.UseSSL {
		cert, err := tls.LoadX509KeyPair("certchain.pem", "privatekey.pem")
		if err != nil {
			return fmt.Errorf("cannot load TLS certificate: %w", err)
		}
		server = &http.Server{
			Addr:    ":443",
			Handler: handler,
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		}
	} else {
		server = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: handler,
		}
	}
	server.ReadHeaderTimeout = 10 * time.Second

	errc := make(chan error, 1)
	go func() {
		var err error
		if cfg.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	logger.Info("HTTP service started", zap.String("addr", server.Addr))

	select {
	case err := <-errc:
		return fmt.Errorf("error listening to %s: %w", server.Addr, err)
	case <-ctx.Done():
	}
	logger.Info("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	logger.Info("HTTP service shutdown normal")
	return nil
}

// cors answers preflight requests before routing, so every route gets them.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			CORSHeaders(w, r)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With")
}
