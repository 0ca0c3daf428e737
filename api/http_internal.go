package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/handlers"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/middleware"
)

// ListenAndServeInternal serves metrics and a liveness probe on a side port.
// The mail worker has no public API, this is its only listener.
func ListenAndServeInternal(ctx context.Context, addr string) error {
	router := NewScribeAPIRouterInternal()
	server := http.Server{Addr: addr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(
		"Starting internal API",
		"version", config.Version,
		"host", addr,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewScribeAPIRouterInternal() *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(log.NewLogger())

	probeHandlers := &handlers.ScribeAPIHandlersCollection{}
	router.GET("/api/health", withLogging(probeHandlers.Healthcheck()))

	metricsHandler := promhttp.Handler()
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		metricsHandler.ServeHTTP(w, r)
	})

	return router
}
