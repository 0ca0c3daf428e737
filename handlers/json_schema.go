package handlers

import "github.com/xeipuuv/gojsonschema"

const TranscribeRequestSchemaDefinition = `{
	"type": "object",
	"required": ["url"],
	"additionalProperties": false,
	"properties": {
		"url": {
			"type": "string",
			"minLength": 1,
			"maxLength": 2048
		},
		"tags": {
			"type": "array",
			"maxItems": 20,
			"items": {
				"type": "string",
				"minLength": 1,
				"maxLength": 50
			}
		}
	}
}`

const PatchTagsRequestSchemaDefinition = `{
	"type": "object",
	"required": ["tags"],
	"additionalProperties": false,
	"properties": {
		"tags": {
			"type": "array",
			"maxItems": 20,
			"items": {
				"type": "string",
				"minLength": 1,
				"maxLength": 50
			}
		}
	}
}`

const CreateSummaryRequestSchemaDefinition = `{
	"type": "object",
	"required": ["transcription_id"],
	"additionalProperties": false,
	"properties": {
		"transcription_id": {
			"type": "string",
			"minLength": 1
		},
		"api_endpoint": {
			"type": "string"
		},
		"model": {
			"type": "string"
		},
		"api_key": {
			"type": "string"
		},
		"system_prompt": {
			"type": "string"
		},
		"system_prompt_suffix": {
			"type": "string"
		}
	}
}`

const PutSecretRequestSchemaDefinition = `{
	"type": "object",
	"required": ["name", "value"],
	"additionalProperties": false,
	"properties": {
		"name": {
			"type": "string",
			"pattern": "^[A-Za-z0-9_-]{1,64}$"
		},
		"value": {
			"type": "string",
			"minLength": 1
		}
	}
}`

const CreateEpisodeSourceRequestSchemaDefinition = `{
	"type": "object",
	"required": ["transcription_id", "source_text", "matched_url"],
	"additionalProperties": false,
	"properties": {
		"transcription_id": {
			"type": "string",
			"minLength": 1
		},
		"source_text": {
			"type": "string"
		},
		"matched_url": {
			"type": "string",
			"minLength": 1
		},
		"email_subject": {
			"type": "string"
		},
		"email_from": {
			"type": "string"
		}
	}
}`

var inputSchemas map[string]string = map[string]string{
	"Transcribe":          TranscribeRequestSchemaDefinition,
	"PatchTags":           PatchTagsRequestSchemaDefinition,
	"CreateSummary":       CreateSummaryRequestSchemaDefinition,
	"PutSecret":           PutSecretRequestSchemaDefinition,
	"CreateEpisodeSource": CreateEpisodeSourceRequestSchemaDefinition,
}

func compileJsonSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, len(inputSchemas))
	for name, text := range inputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			// raise panic on program start
			panic(err) // fix schema text
		}
		compiled[name] = schema
	}
	return compiled
}

// Run compile step on program start:
var inputSchemasCompiled map[string]*gojsonschema.Schema = compileJsonSchemas()
