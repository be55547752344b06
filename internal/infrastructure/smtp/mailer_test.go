package smtp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage_PlainText(t *testing.T) {
	raw, err := buildMessage("noreply@example.com", Message{To: "a@x.com", Subject: "Your code", Text: "123456"})
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "To: a@x.com\r\n")
	assert.Contains(t, s, "Content-Type: text/plain; charset=UTF-8\r\n\r\n123456")
	assert.NotContains(t, s, "multipart")
}

func TestBuildMessage_Alternative(t *testing.T) {
	raw, err := buildMessage("noreply@example.com", Message{
		To:      "a@x.com",
		Subject: "Your code",
		Text:    "code 123456",
		HTML:    "<p>code <b>123456</b></p>",
	})
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "Content-Type: multipart/alternative; boundary=")
	assert.Contains(t, s, "code 123456")
	assert.Contains(t, s, "<b>123456</b>")
	assert.Less(t, strings.Index(s, "text/plain"), strings.Index(s, "text/html"))
}
