package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-kit/log"
	"github.com/julienschmidt/httprouter"
	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/requests"
)

// statusRecorder keeps the response code for the access log. A handler that
// never calls WriteHeader implicitly sends 200.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func recordStatus(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// LogRequest writes one access log line per request and turns handler panics
// into 500s. The request ID is minted here, before the handler runs, so the
// access line and everything the handler logs share the same ID.
func LogRequest(logger log.Logger) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		fn := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			start := time.Now()
			requestID := requests.GetRequestId(r)
			wrapped := recordStatus(w)

			defer func() {
				if rec := recover(); rec != nil {
					errors.WriteHTTPInternalServerError(wrapped, "Internal Server Error", nil)
					logger.Log("request_id", requestID, "panic", rec, "trace", debug.Stack())
				}
			}()

			next(wrapped, r, ps)
			logger.Log(
				"request_id", requestID,
				"remote", r.RemoteAddr,
				"method", r.Method,
				"uri", r.URL.RequestURI(),
				"duration", time.Since(start),
				"status", wrapped.status,
			)
		}

		return fn
	}
}
