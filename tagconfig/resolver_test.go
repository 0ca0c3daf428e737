package tagconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveFallsBackToDefault(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	t.Setenv("OPENAI_API_KEY", "")

	res, err := store.Resolve([]string{"news", "work"}, Overrides{})
	require.NoError(err)
	require.Equal(ConfigSourceDefault, res.ConfigSource)
	require.Equal(testSeed.APIEndpoint, res.APIEndpoint)
	require.Equal(testSeed.Model, res.Model)
	require.Equal(testSeed.SystemPrompt, res.SystemPrompt)
	require.Empty(res.APIKey)
	require.Empty(res.DestinationEmails)
}

func TestResolveFirstTagWithConfigWins(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	require.NoError(store.Put("work", TagConfig{
		APIEndpoint:       "https://work.example.com/v1/chat/completions",
		Model:             "work-model",
		SystemPrompt:      "Work prompt.",
		DestinationEmails: []string{"work@example.com"},
	}))
	require.NoError(store.Put("news", TagConfig{
		APIEndpoint:  "https://news.example.com/v1/chat/completions",
		Model:        "news-model",
		SystemPrompt: "News prompt.",
	}))

	// "podcasts" has no config, so "work" is the first hit
	res, err := store.Resolve([]string{"podcasts", "work", "news"}, Overrides{})
	require.NoError(err)
	require.Equal("tag:work", res.ConfigSource)
	require.Equal("work-model", res.Model)
	require.Equal([]string{"work@example.com"}, res.DestinationEmails)
}

func TestResolveAPIKeyFromEnv(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	res, err := store.Resolve(nil, Overrides{})
	require.NoError(err)
	require.Equal("sk-env", res.APIKey)
}

func TestResolveAPIKeyFromSecretStore(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	t.Setenv("OPENAI_API_KEY", "")
	require.NoError(store.PutSecret("openai", "sk-file"))

	res, err := store.Resolve(nil, Overrides{})
	require.NoError(err)
	require.Equal("sk-file", res.APIKey)

	// environment beats the secret store
	t.Setenv("OPENAI_API_KEY", "sk-env")
	res, err = store.Resolve(nil, Overrides{})
	require.NoError(err)
	require.Equal("sk-env", res.APIKey)
}

func TestResolveOverridesApplyLast(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	require.NoError(store.Put("work", TagConfig{
		APIEndpoint:  "https://work.example.com/v1/chat/completions",
		Model:        "work-model",
		SystemPrompt: "Work prompt.",
	}))

	res, err := store.Resolve([]string{"work"}, Overrides{
		Model:  "caller-model",
		APIKey: "sk-caller",
	})
	require.NoError(err)
	require.Equal("tag:work", res.ConfigSource)
	require.Equal("https://work.example.com/v1/chat/completions", res.APIEndpoint)
	require.Equal("caller-model", res.Model)
	require.Equal("sk-caller", res.APIKey)
}

func TestEnvKeyName(t *testing.T) {
	require := require.New(t)
	require.Equal("OPENAI_API_KEY", EnvKeyName("openai"))
	require.Equal("MY_PROVIDER_API_KEY", EnvKeyName("my-provider"))
	require.Equal("LOCAL_LLAMA_API_KEY", EnvKeyName("local_llama"))
}
