package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheStoreGetRemove(t *testing.T) {
	c := New[string]()
	require.Equal(t, "", c.Get("missing"))
	require.Zero(t, c.Len())

	c.Store("youtube_abc12345678", "job")
	require.Equal(t, "job", c.Get("youtube_abc12345678"))
	require.Equal(t, 1, c.Len())
	require.Equal(t, []string{"youtube_abc12345678"}, c.GetKeys())

	c.Remove("youtube_abc12345678")
	require.Equal(t, "", c.Get("youtube_abc12345678"))
	require.Zero(t, c.Len())
}

func TestCacheZeroValueForPointers(t *testing.T) {
	type job struct{ id string }
	c := New[*job]()
	require.Nil(t, c.Get("missing"))

	c.Store("id", &job{id: "id"})
	require.Equal(t, "id", c.Get("id").id)
}
