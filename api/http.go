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
	"github.com/scribe-audio/scribe/pipeline"
	"github.com/scribe-audio/scribe/push"
	"github.com/scribe-audio/scribe/store"
	"github.com/scribe-audio/scribe/summarize"
	"github.com/scribe-audio/scribe/tagconfig"
)

// RouterOpts carries everything the public API serves from.
type RouterOpts struct {
	Engine     *pipeline.Coordinator
	Store      *store.Store
	Artifacts  *store.ArtifactStore
	Summarizer *summarize.Summarizer
	TagConfigs *tagconfig.Store
	Hub        *push.Hub

	// MaxInFlight caps accepted transcribe submissions, counting queued and
	// running jobs plus requests still in the handler.
	MaxInFlight int
}

func ListenAndServe(ctx context.Context, addr string, opts RouterOpts) error {
	router := NewScribeAPIRouter(opts)
	server := http.Server{Addr: addr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(
		"Starting Scribe API!",
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

func NewScribeAPIRouter(opts RouterOpts) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(log.NewLogger())
	withCORS := middleware.AllowCORS()
	capacity := &middleware.CapacityMiddleware{}

	// Preflight requests never reach per-route handlers, httprouter answers
	// OPTIONS globally.
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
	})

	scribeHandlers := &handlers.ScribeAPIHandlersCollection{
		Engine:     opts.Engine,
		Store:      opts.Store,
		Artifacts:  opts.Artifacts,
		Summarizer: opts.Summarizer,
		TagConfigs: opts.TagConfigs,
	}

	wrap := func(h httprouter.Handle) httprouter.Handle {
		return withLogging(withCORS(h))
	}

	// Simple endpoint for healthchecks
	router.GET("/api/health", wrap(scribeHandlers.Healthcheck()))

	// Submission is the only capacity-gated route: everything else is reads
	// and small writes.
	router.POST("/api/transcribe",
		wrap(
			capacity.HasCapacity(
				opts.Engine,
				opts.MaxInFlight,
				scribeHandlers.Transcribe(),
			),
		),
	)

	router.GET("/api/transcriptions", wrap(scribeHandlers.ListTranscriptions()))
	router.GET("/api/transcriptions/:id", wrap(scribeHandlers.GetTranscription()))
	router.PATCH("/api/transcriptions/:id", wrap(scribeHandlers.PatchTranscriptionTags()))
	router.DELETE("/api/transcriptions/:id", wrap(scribeHandlers.DeleteTranscription()))
	router.GET("/api/transcriptions/:id/export/:format", wrap(scribeHandlers.ExportTranscription()))

	router.GET("/api/tags", wrap(scribeHandlers.ListTags()))
	router.GET("/api/tags/:name", wrap(scribeHandlers.GetTag()))

	router.POST("/api/summaries", wrap(scribeHandlers.CreateSummary()))
	router.GET("/api/summaries", wrap(scribeHandlers.ListSummaries()))
	router.GET("/api/summaries/:id", wrap(scribeHandlers.GetSummary()))
	router.DELETE("/api/summaries/:id", wrap(scribeHandlers.DeleteSummary()))
	router.GET("/api/summaries/:id/export/:format", wrap(scribeHandlers.ExportSummary()))

	router.GET("/api/config/tags", wrap(scribeHandlers.GetTagConfigs()))
	router.POST("/api/config/tags", wrap(scribeHandlers.ReplaceTagConfigs()))
	router.PUT("/api/config/tags/:name", wrap(scribeHandlers.PutTagConfig()))
	router.DELETE("/api/config/tags/:name", wrap(scribeHandlers.DeleteTagConfig()))

	router.GET("/api/config/secrets", wrap(scribeHandlers.ListSecrets()))
	router.POST("/api/config/secrets", wrap(scribeHandlers.PutSecret()))
	router.DELETE("/api/config/secrets/:name", wrap(scribeHandlers.DeleteSecret()))

	router.POST("/api/episode-sources", wrap(scribeHandlers.CreateEpisodeSource()))
	router.GET("/api/episode-sources", wrap(scribeHandlers.ListEpisodeSources()))

	// Push channel. The hub does its own upgrade; logging middleware would
	// hijack the connection wrapper, so it stays off this route.
	router.GET("/ws", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		opts.Hub.HandleWS(w, r)
	})

	metricsHandler := promhttp.Handler()
	router.GET("/metrics", withLogging(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		metricsHandler.ServeHTTP(w, r)
	}))

	return router
}
