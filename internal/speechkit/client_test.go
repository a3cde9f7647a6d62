package speechkit

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "привет мир", r.PostForm.Get("text"))
		assert.Equal(t, "ru-RU", r.PostForm.Get("lang"))
		assert.Equal(t, "zahar", r.PostForm.Get("voice"))
		assert.Equal(t, "good", r.PostForm.Get("emotion"))
		assert.Equal(t, "1.5", r.PostForm.Get("speed"))
		assert.Equal(t, "folder", r.PostForm.Get("folderId"))
		w.Write([]byte("OggS-audio"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "folder", nil)
	audio, err := c.Synthesize(context.Background(), "tok", "привет мир", Voice{Name: "zahar", Emotion: "good", Speed: 1.5})
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS-audio"), audio)
}

func TestSynthesize_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error_code":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "folder", nil)
	_, err := c.Synthesize(context.Background(), "bad", "text", Voice{Name: "zahar", Speed: 1})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, OpSynthesize, upstream.Op)
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
}

func TestRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "general", q.Get("topic"))
		assert.Equal(t, "folder", q.Get("folderId"))
		assert.Equal(t, "en-US", q.Get("lang"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("OggS"), body)
		w.Write([]byte(`{"result":"hello world"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "folder", nil, WithLanguage("en-US"))
	text, err := c.Recognize(context.Background(), "tok", []byte("OggS"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestRecognize_ErrorCodeInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error_code":"BAD_REQUEST","error_message":"audio is too long"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "folder", nil)
	_, err := c.Recognize(context.Background(), "tok", []byte("OggS"))

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, OpRecognize, upstream.Op)
	assert.Equal(t, "BAD_REQUEST", upstream.Code)
	assert.Contains(t, upstream.Error(), "BAD_REQUEST")
}

func TestRecognize_NonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "folder", nil)
	_, err := c.Recognize(context.Background(), "tok", []byte("OggS"))

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadGateway, upstream.StatusCode)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, srv.URL, "folder", nil, WithHTTPTimeout(50*time.Millisecond))
	_, err := c.Synthesize(context.Background(), "tok", "text", Voice{Name: "zahar", Speed: 1})
	require.Error(t, err)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, OpSynthesize, upstream.Op)
	assert.Zero(t, upstream.StatusCode)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestRecognize_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, "folder", nil)
	_, err := c.Recognize(context.Background(), "tok", []byte("OggS"))

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, OpRecognize, upstream.Op)
	assert.Zero(t, upstream.StatusCode)
}
