package gpt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "folder", r.Header.Get("x-folder-id"))

		var p payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "gpt://folder/yandexgpt-lite/latest", p.ModelURI)
		assert.False(t, p.CompletionOptions.Stream)
		assert.Equal(t, 0.3, p.CompletionOptions.Temperature)
		assert.Equal(t, 50, p.CompletionOptions.MaxTokens)
		if assert.Len(t, p.Messages, 2) {
			assert.Equal(t, RoleSystem, p.Messages[0].Role)
		}

		w.Write([]byte(`{"result":{"alternatives":[{"message":{"role":"assistant","text":"Ответ"},"status":"ALTERNATIVE_STATUS_FINAL"}],"usage":{"inputTextTokens":"12"}}}`))
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var p textPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "Ответ", p.Text)
		w.Write([]byte(`{"tokens":[{"id":"1","text":"От","special":false},{"id":"2","text":"вет","special":false}],"modelVersion":"1"}`))
	})
	mux.HandleFunc("/tokenize-completion", func(w http.ResponseWriter, r *http.Request) {
		var p payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Len(t, p.Messages, 2)
		w.Write([]byte(`{"tokens":[{"id":"1"},{"id":"2"},{"id":"3"},{"id":"4"}]}`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, completion string) *Client {
	return NewClient(Endpoints{
		Completion:         srv.URL + completion,
		Tokenize:           srv.URL + "/tokenize",
		TokenizeCompletion: srv.URL + "/tokenize-completion",
	}, nil, WithTemperature(0.3), WithMaxTokens(50), WithFolderID("folder"))
}

var testMessages = []Message{
	{Role: RoleSystem, Text: "Ты помощник"},
	{Role: RoleUser, Text: "Вопрос"},
}

func TestComplete(t *testing.T) {
	c := newTestClient(newTestServer(t), "/completion")

	reply, err := c.Complete(context.Background(), "tok", "gpt://folder/yandexgpt-lite/latest", testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Ответ", reply)
	assert.Equal(t, 50, c.MaxTokens())
}

func TestTokenCounts(t *testing.T) {
	c := newTestClient(newTestServer(t), "/completion")
	ctx := context.Background()

	n, err := c.CountText(ctx, "tok", "gpt://folder/yandexgpt-lite/latest", "Ответ")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.CountCompletion(ctx, "tok", "gpt://folder/yandexgpt-lite/latest", testMessages)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestComplete_UpstreamError(t *testing.T) {
	c := newTestClient(newTestServer(t), "/broken")

	_, err := c.Complete(context.Background(), "tok", "gpt://folder/yandexgpt-lite/latest", testMessages)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, OpComplete, upstream.Op)
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
}

func TestComplete_NoAlternatives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"alternatives":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(Endpoints{Completion: srv.URL}, nil)
	_, err := c.Complete(context.Background(), "tok", "gpt://f/m/latest", testMessages)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, OpComplete, upstream.Op)
	assert.Zero(t, upstream.StatusCode)
}

func TestCountText_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(Endpoints{Tokenize: srv.URL}, nil)
	_, err := c.CountText(context.Background(), "tok", "gpt://f/m/latest", "text")

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, OpTokenize, upstream.Op)
	assert.Error(t, upstream.Err)
}

func TestComplete_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Endpoints{Completion: url}, nil)
	_, err := c.Complete(context.Background(), "tok", "gpt://f/m/latest", testMessages)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Zero(t, upstream.StatusCode)
}
