package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/requests"
	"github.com/scribe-audio/scribe/store"
)

const maxListLimit = 100

type ListTranscriptionsResponse struct {
	Items []store.Transcription `json:"items"`
	Total int                   `json:"total"`
	Skip  int                   `json:"skip"`
	Limit int                   `json:"limit"`
}

func (d *ScribeAPIHandlersCollection) ListTranscriptions() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		q := req.URL.Query()
		skip, ok := parsePageParam(w, "skip", q.Get("skip"), 0)
		if !ok {
			return
		}
		limit, ok := parsePageParam(w, "limit", q.Get("limit"), 20)
		if !ok {
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}

		items, total, err := d.Store.List(store.ListOptions{
			Skip:   skip,
			Limit:  limit,
			Status: q.Get("status"),
			Search: q.Get("search"),
			Tag:    q.Get("tag"),
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error listing transcriptions", err)
			return
		}
		writeJSON(w, http.StatusOK, ListTranscriptionsResponse{Items: items, Total: total, Skip: skip, Limit: limit})
	}
}

func (d *ScribeAPIHandlersCollection) GetTranscription() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		t, err := d.Store.Get(params.ByName("id"))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error loading transcription", err)
			return
		}
		if t == nil {
			errors.WriteHTTPNotFound(w, "Transcription not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

type PatchTagsRequest struct {
	Tags []string `json:"tags"`
}

// PatchTranscriptionTags replaces the record's tag list. Tags normalize the
// same way as on submission; the response carries the updated record.
func (d *ScribeAPIHandlersCollection) PatchTranscriptionTags() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		var patchRequest PatchTagsRequest
		if !parseJSONBody(w, req, "PatchTags", &patchRequest) {
			return
		}

		tags, err := store.NormalizeTags(patchRequest.Tags)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid tags", err)
			return
		}

		id := params.ByName("id")
		found, err := d.Store.UpdateTags(id, tags)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error updating tags", err)
			return
		}
		if !found {
			errors.WriteHTTPNotFound(w, "Transcription not found", nil)
			return
		}

		t, err := d.Store.Get(id)
		if err != nil || t == nil {
			errors.WriteHTTPInternalServerError(w, "Error loading transcription", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// DeleteTranscription removes the record, its summaries and episode sources
// (cascade in the store), the on-disk artifact and any cached audio.
func (d *ScribeAPIHandlersCollection) DeleteTranscription() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		requestID := requests.GetRequestId(req)

		t, err := d.Store.Get(id)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error loading transcription", err)
			return
		}
		if t == nil {
			errors.WriteHTTPNotFound(w, "Transcription not found", nil)
			return
		}

		if err := d.Artifacts.Delete(id); err != nil {
			log.LogError(requestID, "error removing transcript artifact", err, "id", id)
		}
		if t.AudioPath != nil {
			if err := os.Remove(*t.AudioPath); err != nil && !os.IsNotExist(err) {
				log.LogError(requestID, "error removing cached audio", err, "id", id, "path", *t.AudioPath)
			}
		}

		if _, err := d.Store.Delete(id); err != nil {
			errors.WriteHTTPInternalServerError(w, "Error deleting transcription", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ExportTranscription serves the transcript as a txt, srt or json download.
func (d *ScribeAPIHandlersCollection) ExportTranscription() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		format := params.ByName("format")
		if format != "txt" && format != "srt" && format != "json" {
			errors.WriteHTTPBadRequest(w, "Unsupported export format", fmt.Errorf("format %q not in txt, srt, json", format))
			return
		}

		t, err := d.Store.Get(id)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error loading transcription", err)
			return
		}
		if t == nil {
			errors.WriteHTTPNotFound(w, "Transcription not found", nil)
			return
		}
		if t.Status != store.StatusCompleted || t.TranscriptionPath == nil {
			errors.WriteHTTPBadRequest(w, "Transcription is not completed", nil)
			return
		}

		art, err := d.Artifacts.LoadPath(*t.TranscriptionPath)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error loading transcript artifact", err)
			return
		}

		base := id
		if t.Title != nil && *t.Title != "" {
			base = *t.Title
		}

		switch format {
		case "txt":
			writeAttachment(w, base+".txt", "text/plain; charset=utf-8", []byte(store.FormatTXT(art.Transcription.Segments)))
		case "srt":
			writeAttachment(w, base+".srt", "application/x-subrip", []byte(store.FormatSRT(art.Transcription.Segments)))
		case "json":
			data, err := json.MarshalIndent(art, "", "  ")
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Error encoding artifact", err)
				return
			}
			writeAttachment(w, base+".json", "application/json", data)
		}
	}
}

func parsePageParam(w http.ResponseWriter, name, raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		errors.WriteHTTPBadRequest(w, "Invalid "+name+" parameter", err)
		return 0, false
	}
	return n, true
}
