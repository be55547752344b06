package s3infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	cases := map[string]string{
		"receipts/01HX.html": "text/html; charset=utf-8",
		"receipts/01HX.HTML": "text/html; charset=utf-8",
		"a/b.png":            "image/png",
		"noext":              "application/octet-stream",
	}
	for key, want := range cases {
		assert.Equal(t, want, detectContentType(key), key)
	}
}
