package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/tagconfig"
)

// GetTagConfigs returns the whole config file, seeding the default entry on
// first read.
func (d *ScribeAPIHandlersCollection) GetTagConfigs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		configs, err := d.TagConfigs.All()
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error reading tag configs", err)
			return
		}
		writeJSON(w, http.StatusOK, configs)
	}
}

// ReplaceTagConfigs swaps the entire config file for the posted document.
// The store validates before anything touches disk, so a bad document leaves
// the previous file intact.
func (d *ScribeAPIHandlersCollection) ReplaceTagConfigs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if !HasContentType(req, "application/json") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		}
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		}

		configs, err := d.TagConfigs.ReplaceAll(payload)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid tag configs document", err)
			return
		}
		writeJSON(w, http.StatusOK, configs)
	}
}

// PutTagConfig creates or updates a single named entry.
func (d *ScribeAPIHandlersCollection) PutTagConfig() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		if !HasContentType(req, "application/json") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		}
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		}

		var cfg tagconfig.TagConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid tag config payload", err)
			return
		}

		name := params.ByName("name")
		if err := d.TagConfigs.Put(name, cfg); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid tag config", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]tagconfig.TagConfig{name: cfg})
	}
}

// DeleteTagConfig removes a named entry. The default entry is protected: the
// resolver always needs a fallback.
func (d *ScribeAPIHandlersCollection) DeleteTagConfig() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		name := params.ByName("name")
		if name == tagconfig.DefaultName {
			errors.WriteHTTPBadRequest(w, "The default config cannot be deleted", nil)
			return
		}
		found, err := d.TagConfigs.Delete(name)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Cannot delete tag config", err)
			return
		}
		if !found {
			errors.WriteHTTPNotFound(w, "No config for tag", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type ListSecretsResponse struct {
	Secrets []string `json:"secrets"`
}

// ListSecrets returns key names only. Values never leave the secrets file.
func (d *ScribeAPIHandlersCollection) ListSecrets() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		names, err := d.TagConfigs.SecretNames()
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error reading secrets", err)
			return
		}
		writeJSON(w, http.StatusOK, ListSecretsResponse{Secrets: names})
	}
}

type PutSecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PutSecret creates or replaces a secret. The response echoes the name only.
func (d *ScribeAPIHandlersCollection) PutSecret() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var secretRequest PutSecretRequest
		if !parseJSONBody(w, req, "PutSecret", &secretRequest) {
			return
		}
		if err := d.TagConfigs.PutSecret(secretRequest.Name, secretRequest.Value); err != nil {
			errors.WriteHTTPBadRequest(w, "Cannot store secret", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": secretRequest.Name})
	}
}

func (d *ScribeAPIHandlersCollection) DeleteSecret() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		found, err := d.TagConfigs.DeleteSecret(params.ByName("name"))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Error deleting secret", err)
			return
		}
		if !found {
			errors.WriteHTTPNotFound(w, "Secret not found", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
