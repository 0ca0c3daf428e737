package pprof

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/scribe-audio/scribe/log"
)

// ListenAndServe runs the profiling listener until ctx is cancelled. The
// net/http/pprof import hangs its handlers off the default mux, so the server
// uses that directly.
func ListenAndServe(ctx context.Context, addr string) error {
	server := http.Server{Addr: addr, Handler: http.DefaultServeMux}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID("starting pprof listener", "host", addr)

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
