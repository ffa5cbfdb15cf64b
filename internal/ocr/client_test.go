package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognize_JoinsParsedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "key", r.FormValue("apikey"))
		assert.Equal(t, "rus", r.FormValue("language"))
		assert.Equal(t, "false", r.FormValue("isOverlayRequired"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "image.jpg", header.Filename)
		body, _ := io.ReadAll(file)
		assert.Equal(t, []byte("jpeg-bytes"), body)

		_, _ = w.Write([]byte(`{"IsErroredOnProcessing":false,"ParsedResults":[{"ParsedText":"2x + 5 = 17"},{"ParsedText":"x = ? \r\n"}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "key", URL: srv.URL, Language: "rus"})

	text, err := c.Recognize(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "2x + 5 = 17\nx = ?", text)
}

func TestRecognize_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"processing error", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":["bad image"]}`},
		{"empty text", http.StatusOK, `{"IsErroredOnProcessing":false,"ParsedResults":[{"ParsedText":"  "}]}`},
		{"http error", http.StatusForbidden, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{APIKey: "key", URL: srv.URL})

			_, err := c.Recognize(context.Background(), []byte("x"))
			require.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestRecognize_NotConfigured(t *testing.T) {
	c := New(Config{URL: "http://unused"})

	assert.False(t, c.Enabled())
	_, err := c.Recognize(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrUnavailable)
}
