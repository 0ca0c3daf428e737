package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/requests"
	"github.com/scribe-audio/scribe/summarize"
)

type CreateSummaryRequest struct {
	TranscriptionID    string `json:"transcription_id"`
	APIEndpoint        string `json:"api_endpoint"`
	Model              string `json:"model"`
	APIKey             string `json:"api_key"`
	SystemPrompt       string `json:"system_prompt"`
	SystemPromptSuffix string `json:"system_prompt_suffix"`
}

// CreateSummary generates a summary synchronously and persists it. LLM
// failures map to 502 so callers can tell upstream trouble from their own
// bad requests.
func (d *ScribeAPIHandlersCollection) CreateSummary() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var summaryRequest CreateSummaryRequest
		if !parseJSONBody(w, req, "CreateSummary", &summaryRequest) {
			return
		}

		requestID := requests.GetRequestId(req)
		summary, err := d.Summarizer.Summarize(req.Context(), requestID, summarize.Request{
			TranscriptionID:    summaryRequest.TranscriptionID,
			APIEndpoint:        summaryRequest.APIEndpoint,
			Model:              summaryRequest.Model,
			APIKey:             summaryRequest.APIKey,
			SystemPrompt:       summaryRequest.SystemPrompt,
			SystemPromptSuffix: summaryRequest.SystemPromptSuffix,
		})
		if err != nil {
			switch {
			case errors.IsObjectNotFound(err):
				errors.WriteHTTPNotFound(w, "Transcription not found", nil)
			case stderrors.Is(err, summarize.ErrTranscriptionIncomplete):
				errors.WriteHTTPBadRequest(w, "Transcription has no completed transcript", err)
			case summarize.IsLLMError(err):
				errors.WriteHTTPBadGateway(w, "LLM request failed", err)
			default:
				errors.WriteHTTPInternalServerError(w, "Error generating summary", err)
			}
			return
		}

		writeJSON(w, http.StatusCreated, summary)
	}
}

func (d *ScribeAPIHandlersCollection) ListSummaries() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		summaries, err := d.Store.ListSummaries(req.URL.Query().Get("transcription_id"))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error listing summaries", err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func (d *ScribeAPIHandlersCollection) GetSummary() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		summary, err := d.Store.GetSummary(params.ByName("id"))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error loading summary", err)
			return
		}
		if summary == nil {
			errors.WriteHTTPNotFound(w, "Summary not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (d *ScribeAPIHandlersCollection) DeleteSummary() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		found, err := d.Store.DeleteSummary(params.ByName("id"))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error deleting summary", err)
			return
		}
		if !found {
			errors.WriteHTTPNotFound(w, "Summary not found", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ExportSummary serves the summary text (or the full record as JSON) as a
// download.
func (d *ScribeAPIHandlersCollection) ExportSummary() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		format := params.ByName("format")
		if format != "txt" && format != "json" {
			errors.WriteHTTPBadRequest(w, "Unsupported export format", fmt.Errorf("format %q not in txt, json", format))
			return
		}

		summary, err := d.Store.GetSummary(id)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error loading summary", err)
			return
		}
		if summary == nil {
			errors.WriteHTTPNotFound(w, "Summary not found", nil)
			return
		}

		switch format {
		case "txt":
			writeAttachment(w, summary.ID+".txt", "text/plain; charset=utf-8", []byte(summary.SummaryText))
		case "json":
			data, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Error encoding summary", err)
				return
			}
			writeAttachment(w, summary.ID+".json", "application/json", data)
		}
	}
}
