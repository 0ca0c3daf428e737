package tagconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/google/renameio/v2"
	"github.com/xeipuuv/gojsonschema"
)

const (
	// DefaultName is the fallback entry every config file carries.
	DefaultName = "default"

	configsFile = "tag_configs.json"
	secretsFile = "secrets.json"
)

var secretNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const tagConfigsSchemaDefinition = `{
	"type": "object",
	"required": ["default"],
	"additionalProperties": {
		"type": "object",
		"required": ["api_endpoint", "model", "system_prompt"],
		"additionalProperties": false,
		"properties": {
			"api_endpoint": { "type": "string", "minLength": 1 },
			"model": { "type": "string", "minLength": 1 },
			"system_prompt": { "type": "string", "minLength": 1 },
			"api_key_ref": { "type": "string" },
			"destination_emails": {
				"type": "array",
				"items": { "type": "string", "minLength": 3 }
			}
		}
	}
}`

func compileSchema(text string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		// rase panic on program start
		panic(err) // fix schema text
	}
	return schema
}

// Run compile step on program start:
var tagConfigsSchema = compileSchema(tagConfigsSchemaDefinition)

// TagConfig is one named LLM configuration. api_key_ref points into the
// secret store; the key value itself never lives in this file.
type TagConfig struct {
	APIEndpoint       string   `json:"api_endpoint"`
	Model             string   `json:"model"`
	SystemPrompt      string   `json:"system_prompt"`
	APIKeyRef         string   `json:"api_key_ref,omitempty"`
	DestinationEmails []string `json:"destination_emails,omitempty"`
}

// Store reads and writes the two config files. Files are re-read on every
// call so out-of-band edits take effect without a restart; writes validate
// first and replace atomically.
type Store struct {
	configsPath string
	secretsPath string
	seed        TagConfig
}

// NewStore sets up a store under configDir. seed becomes the default entry
// when the configs file does not exist yet.
func NewStore(configDir string, seed TagConfig) *Store {
	return &Store{
		configsPath: filepath.Join(configDir, configsFile),
		secretsPath: filepath.Join(configDir, secretsFile),
		seed:        seed,
	}
}

// All returns every tag config, seeding the file with the default entry on
// first read.
func (s *Store) All() (map[string]TagConfig, error) {
	data, err := os.ReadFile(s.configsPath)
	if os.IsNotExist(err) {
		configs := map[string]TagConfig{DefaultName: s.seed}
		if err := s.writeConfigs(configs); err != nil {
			return nil, err
		}
		return configs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading tag configs: %w", err)
	}

	var configs map[string]TagConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("error parsing tag configs: %w", err)
	}
	if _, ok := configs[DefaultName]; !ok {
		return nil, fmt.Errorf("tag configs file has no default entry")
	}
	return configs, nil
}

// Get returns one named config, nil when absent.
func (s *Store) Get(name string) (*TagConfig, error) {
	configs, err := s.All()
	if err != nil {
		return nil, err
	}
	cfg, ok := configs[name]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

// Put creates or replaces one named config.
func (s *Store) Put(name string, cfg TagConfig) error {
	if name == "" {
		return fmt.Errorf("tag config name must not be empty")
	}
	configs, err := s.All()
	if err != nil {
		return err
	}
	configs[name] = cfg
	return s.validateAndWrite(configs)
}

// Delete removes a named config. The default entry is not deletable.
func (s *Store) Delete(name string) (bool, error) {
	if name == DefaultName {
		return false, fmt.Errorf("the default tag config cannot be deleted")
	}
	configs, err := s.All()
	if err != nil {
		return false, err
	}
	if _, ok := configs[name]; !ok {
		return false, nil
	}
	delete(configs, name)
	return true, s.writeConfigs(configs)
}

// ReplaceAll validates raw as a complete config document and swaps the file.
func (s *Store) ReplaceAll(raw []byte) (map[string]TagConfig, error) {
	result, err := tagConfigsSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("error validating tag configs: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid tag configs: %s", schemaErrors(result))
	}
	var configs map[string]TagConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("error parsing tag configs: %w", err)
	}
	if err := s.writeConfigs(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *Store) validateAndWrite(configs map[string]TagConfig) error {
	data, err := json.Marshal(configs)
	if err != nil {
		return err
	}
	result, err := tagConfigsSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("error validating tag configs: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid tag configs: %s", schemaErrors(result))
	}
	return s.writeConfigs(configs)
}

func (s *Store) writeConfigs(configs map[string]TagConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.configsPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.configsPath, data, 0644); err != nil {
		return fmt.Errorf("error writing tag configs: %w", err)
	}
	return nil
}

// SecretNames lists the stored secret keys, alphabetically. Values are never
// returned through any path.
func (s *Store) SecretNames() ([]string, error) {
	secrets, err := s.readSecrets()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// PutSecret creates or replaces one secret.
func (s *Store) PutSecret(name, value string) error {
	if !secretNameRegex.MatchString(name) {
		return fmt.Errorf("invalid secret name %q", name)
	}
	if value == "" {
		return fmt.Errorf("secret value must not be empty")
	}
	secrets, err := s.readSecrets()
	if err != nil {
		return err
	}
	secrets[name] = value
	return s.writeSecrets(secrets)
}

// DeleteSecret removes one secret, reporting whether it existed.
func (s *Store) DeleteSecret(name string) (bool, error) {
	secrets, err := s.readSecrets()
	if err != nil {
		return false, err
	}
	if _, ok := secrets[name]; !ok {
		return false, nil
	}
	delete(secrets, name)
	return true, s.writeSecrets(secrets)
}

func (s *Store) readSecrets() (map[string]string, error) {
	data, err := os.ReadFile(s.secretsPath)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading secrets: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("error parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (s *Store) writeSecrets(secrets map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.secretsPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.secretsPath, data, 0600); err != nil {
		return fmt.Errorf("error writing secrets: %w", err)
	}
	return nil
}

func schemaErrors(result *gojsonschema.Result) string {
	out := ""
	for _, desc := range result.Errors() {
		if out != "" {
			out += "; "
		}
		out += desc.String()
	}
	return out
}
