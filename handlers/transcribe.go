package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/pipeline"
	"github.com/scribe-audio/scribe/requests"
	"github.com/scribe-audio/scribe/sources"
	"github.com/scribe-audio/scribe/store"
)

type TranscribeRequest struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

// Transcribe accepts a source URL, creates the pending record and schedules
// the job. The response is the record as created, status 202; the actual
// work happens on the coordinator's workers.
func (d *ScribeAPIHandlersCollection) Transcribe() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		metrics.Metrics.TranscribeRequestCount.Inc()

		var transcribeRequest TranscribeRequest
		if !parseJSONBody(w, req, "Transcribe", &transcribeRequest) {
			metrics.Metrics.TranscribeRequestRejects.WithLabelValues("bad_payload").Inc()
			return
		}

		src, err := sources.Parse(transcribeRequest.URL)
		if err != nil {
			metrics.Metrics.TranscribeRequestRejects.WithLabelValues("invalid_url").Inc()
			errors.WriteHTTPBadRequest(w, "Invalid source URL", err)
			return
		}

		tags, err := store.NormalizeTags(transcribeRequest.Tags)
		if err != nil {
			metrics.Metrics.TranscribeRequestRejects.WithLabelValues("invalid_tags").Inc()
			errors.WriteHTTPBadRequest(w, "Invalid tags", err)
			return
		}

		requestID := requests.GetRequestId(req)
		log.AddContext(requestID, "source", transcribeRequest.URL, "id", src.ID)

		record, err := d.Engine.StartSubmission(req.Context(), requestID, src, tags)
		if err != nil {
			var dup *pipeline.DuplicateSourceError
			switch {
			case stderrors.As(err, &dup):
				metrics.Metrics.TranscribeRequestRejects.WithLabelValues("duplicate").Inc()
				errors.WriteHTTPDuplicateSource(w, dup.ExistingID)
			case stderrors.Is(err, pipeline.ErrAtCapacity):
				metrics.Metrics.TranscribeRequestRejects.WithLabelValues("capacity").Inc()
				errors.WriteHTTPTooManyRequests(w, "Transcription queue is full, retry later", err)
			default:
				errors.WriteHTTPInternalServerError(w, "Cannot start transcription", err)
			}
			return
		}

		writeJSON(w, http.StatusAccepted, record)
	}
}
