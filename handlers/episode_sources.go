package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/store"
)

type CreateEpisodeSourceRequest struct {
	TranscriptionID string `json:"transcription_id"`
	SourceText      string `json:"source_text"`
	MatchedURL      string `json:"matched_url"`
	EmailSubject    string `json:"email_subject"`
	EmailFrom       string `json:"email_from"`
}

// CreateEpisodeSource records the email that produced a transcription. The
// mail worker posts one per accepted newsletter message.
func (d *ScribeAPIHandlersCollection) CreateEpisodeSource() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var sourceRequest CreateEpisodeSourceRequest
		if !parseJSONBody(w, req, "CreateEpisodeSource", &sourceRequest) {
			return
		}

		t, err := d.Store.Get(sourceRequest.TranscriptionID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error loading transcription", err)
			return
		}
		if t == nil {
			errors.WriteHTTPNotFound(w, "Transcription not found", nil)
			return
		}

		es := &store.EpisodeSource{
			ID:              config.EpisodeSourceID(),
			TranscriptionID: sourceRequest.TranscriptionID,
			SourceText:      sourceRequest.SourceText,
			MatchedURL:      sourceRequest.MatchedURL,
		}
		if sourceRequest.EmailSubject != "" {
			es.EmailSubject = &sourceRequest.EmailSubject
		}
		if sourceRequest.EmailFrom != "" {
			es.EmailFrom = &sourceRequest.EmailFrom
		}

		if err := d.Store.CreateEpisodeSource(es); err != nil {
			errors.WriteHTTPInternalServerError(w, "Error storing episode source", err)
			return
		}
		writeJSON(w, http.StatusCreated, es)
	}
}

// ListEpisodeSources returns the stored emails for one transcription.
func (d *ScribeAPIHandlersCollection) ListEpisodeSources() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		id := req.URL.Query().Get("transcription_id")
		if id == "" {
			errors.WriteHTTPBadRequest(w, "transcription_id query parameter is required", nil)
			return
		}
		out, err := d.Store.ListEpisodeSources(id)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error listing episode sources", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
