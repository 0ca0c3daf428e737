package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"
	"github.com/scribe-audio/scribe/metrics"
)

// JobCounter exposes how many transcription runs are currently owned by the
// orchestrator.
type JobCounter interface {
	InFlightJobs() int
}

type CapacityMiddleware struct {
	requestsInFlight atomic.Int64
}

func (c *CapacityMiddleware) HasCapacity(engine JobCounter, maxInFlight int, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Keep a gauge of HTTP requests in flight
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)

		inFlightReqs := c.requestsInFlight.Add(1)
		defer c.requestsInFlight.Add(-1)

		// Count this request alongside the jobs already owned by the
		// orchestrator; submissions past the cap are shed before any work starts
		if engine.InFlightJobs()+int(inFlightReqs)-1 >= maxInFlight {
			metrics.Metrics.TranscribeRequestRejects.WithLabelValues("capacity").Inc()
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		next(w, r, ps)
	}
}
