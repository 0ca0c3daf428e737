package tagconfig

import (
	"fmt"
	"os"
	"strings"
)

// ConfigSourceDefault labels resolutions that fell through to the default
// entry. Tag-driven resolutions are labelled "tag:<name>".
const ConfigSourceDefault = "system_default"

// Overrides are caller-supplied values applied on top of whatever the tag
// resolution produced. Empty fields mean "keep the resolved value".
type Overrides struct {
	APIEndpoint  string
	Model        string
	APIKey       string
	SystemPrompt string
}

// Resolved is the effective LLM configuration for one summarization run.
// APIKey may be empty when neither the environment nor the secret store
// carries the referenced key.
type Resolved struct {
	APIEndpoint       string
	Model             string
	APIKey            string
	SystemPrompt      string
	ConfigSource      string
	DestinationEmails []string
}

// Resolve walks tags in their listed order and picks the first one with a
// named config; without a hit the default entry applies. The API key is
// looked up from the environment first ({REF}_API_KEY), then the secret
// store. Caller overrides are applied last.
func (s *Store) Resolve(tags []string, ov Overrides) (*Resolved, error) {
	configs, err := s.All()
	if err != nil {
		return nil, err
	}

	chosen := configs[DefaultName]
	source := ConfigSourceDefault
	for _, tag := range tags {
		if cfg, ok := configs[tag]; ok && tag != DefaultName {
			chosen = cfg
			source = "tag:" + tag
			break
		}
	}

	key := ""
	if chosen.APIKeyRef != "" {
		key, err = s.lookupKey(chosen.APIKeyRef)
		if err != nil {
			return nil, err
		}
	}

	res := &Resolved{
		APIEndpoint:       chosen.APIEndpoint,
		Model:             chosen.Model,
		APIKey:            key,
		SystemPrompt:      chosen.SystemPrompt,
		ConfigSource:      source,
		DestinationEmails: chosen.DestinationEmails,
	}
	if ov.APIEndpoint != "" {
		res.APIEndpoint = ov.APIEndpoint
	}
	if ov.Model != "" {
		res.Model = ov.Model
	}
	if ov.APIKey != "" {
		res.APIKey = ov.APIKey
	}
	if ov.SystemPrompt != "" {
		res.SystemPrompt = ov.SystemPrompt
	}
	return res, nil
}

// lookupKey resolves a key reference to its value: environment first, secret
// store second, empty string when neither has it.
func (s *Store) lookupKey(ref string) (string, error) {
	if v, ok := os.LookupEnv(EnvKeyName(ref)); ok && v != "" {
		return v, nil
	}
	secrets, err := s.readSecrets()
	if err != nil {
		return "", fmt.Errorf("error resolving api key ref %q: %w", ref, err)
	}
	return secrets[ref], nil
}

// EnvKeyName maps a key reference to its environment variable: uppercased,
// hyphens folded to underscores, suffixed with _API_KEY. A ref "openai"
// reads OPENAI_API_KEY.
func EnvKeyName(ref string) string {
	return strings.ToUpper(strings.ReplaceAll(ref, "-", "_")) + "_API_KEY"
}
