package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/pipeline"
	"github.com/scribe-audio/scribe/store"
	"github.com/scribe-audio/scribe/summarize"
	"github.com/scribe-audio/scribe/tagconfig"
)

// ScribeAPIHandlersCollection bundles the dependencies every API handler
// draws from. One instance serves the whole router.
type ScribeAPIHandlersCollection struct {
	Engine     *pipeline.Coordinator
	Store      *store.Store
	Artifacts  *store.ArtifactStore
	Summarizer *summarize.Summarizer
	TagConfigs *tagconfig.Store
}

type HealthcheckResponse struct {
	Status string `json:"status"`
}

// Healthcheck returns 200 whenever the process is serving requests. The mail
// worker and deploy tooling poll it before submitting work.
func (d *ScribeAPIHandlersCollection) Healthcheck() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, HealthcheckResponse{Status: "healthy"})
	}
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}
	return false
}

// parseJSONBody reads, schema-validates and unmarshals a request body into
// out. It writes the error response itself and reports whether the caller
// should proceed.
func parseJSONBody(w http.ResponseWriter, req *http.Request, schemaName string, out interface{}) bool {
	schema := inputSchemasCompiled[schemaName]

	if !HasContentType(req, "application/json") {
		errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
		return false
	}
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
		return false
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
		return false
	}
	if !result.Valid() {
		errors.WriteHTTPBadBodySchema(schemaName, w, result.Errors())
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoRequestID("error writing HTTP response", "error", err)
	}
}

// writeAttachment sends content as a file download with a sanitized name.
func writeAttachment(w http.ResponseWriter, filename, contentType string, content []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", safeFilename(filename)))
	if _, err := w.Write(content); err != nil {
		log.LogNoRequestID("error writing HTTP response", "error", err)
	}
}

// safeFilename keeps filenames header- and filesystem-safe: anything outside
// [A-Za-z0-9._-] becomes an underscore and runs collapse to one.
func safeFilename(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "export"
	}
	return out
}
