package subprocess

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForwardKeepsLinesIntact(t *testing.T) {
	var out bytes.Buffer
	forward("stdout", strings.NewReader("one\ntwo\n"), &out)
	require.Equal(t, "one\ntwo\n", out.String())
}

func TestForwardWritesUnterminatedFinalLine(t *testing.T) {
	var out bytes.Buffer
	forward("stderr", strings.NewReader("no newline"), &out)
	require.Equal(t, "no newline", out.String())
}
