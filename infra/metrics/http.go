package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	corelogger "github.com/kilianp07/routesim/core/logger"
)

// StatusFunc returns the value served as JSON on /status.
type StatusFunc func() any

// NewOpsHandler serves /metrics (gzip), /healthz and /status. A nil
// gatherer uses the default Prometheus registry and a nil status serves an
// empty object.
func NewOpsHandler(gatherer prometheus.Gatherer, status StatusFunc) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if status == nil {
		status = func() any { return struct{}{} }
	}
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", gzhttp.GzipHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{DisableCompression: true})))
	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	router.GET("/status", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status())
	})
	return router
}

// StartOpsServer serves handler on addr until ctx is cancelled.
func StartOpsServer(ctx context.Context, addr string, handler http.Handler, log corelogger.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("ops server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("ops server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
