package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(nopWriter{})
		SetLevel(INFO)
	})
	return &buf
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestNamed_TagsComponentAndRedacts(t *testing.T) {
	buf := capture(t)

	Named("composer").With("tenant", "t-1").Info("message sent", "sender_email", "alice@example.com", "message_id", 42)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "composer", entry["component"])
	assert.Equal(t, "t-1", entry["tenant"])
	assert.Equal(t, "al***@example.com", entry["sender_email"])
	assert.Equal(t, "42", entry["message_id"])
}

func TestLevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Named("x").Info("dropped")
	Named("x").Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestEmbeddedEmailsRedacted(t *testing.T) {
	buf := capture(t)

	Named("blocking").Info("filtered", "blocked", "[bob@example.com carol@example.com]")

	out := buf.String()
	assert.False(t, strings.Contains(out, "bob@example.com"))
	assert.Contains(t, out, "bo***@example.com")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
