package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/scribe-audio/scribe/errors"
)

type ListTagsResponse struct {
	Tags []string `json:"tags"`
}

// ListTags returns the tags currently present on at least one record,
// alphabetical. Configured-but-unused tags do not appear here; those live
// under /api/config/tags.
func (d *ScribeAPIHandlersCollection) ListTags() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		tags, err := d.Store.UsedTags()
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error listing tags", err)
			return
		}
		writeJSON(w, http.StatusOK, ListTagsResponse{Tags: tags})
	}
}

type TagConfigResponse struct {
	Name              string   `json:"name"`
	APIEndpoint       string   `json:"api_endpoint"`
	Model             string   `json:"model"`
	SystemPrompt      string   `json:"system_prompt"`
	APIKeyRef         string   `json:"api_key_ref,omitempty"`
	DestinationEmails []string `json:"destination_emails"`
}

// GetTag returns the full LLM config for one tag name, including the
// destination list (null when unset). Key references are names, never values.
func (d *ScribeAPIHandlersCollection) GetTag() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		name := params.ByName("name")
		cfg, err := d.TagConfigs.Get(name)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error reading tag configs", err)
			return
		}
		if cfg == nil {
			errors.WriteHTTPNotFound(w, "No config for tag", nil)
			return
		}
		writeJSON(w, http.StatusOK, TagConfigResponse{
			Name:              name,
			APIEndpoint:       cfg.APIEndpoint,
			Model:             cfg.Model,
			SystemPrompt:      cfg.SystemPrompt,
			APIKeyRef:         cfg.APIKeyRef,
			DestinationEmails: cfg.DestinationEmails,
		})
	}
}
