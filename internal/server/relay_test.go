package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperops/ecopay-chat/internal/completion"
	"github.com/hyperops/ecopay-chat/internal/config"
	"github.com/hyperops/ecopay-chat/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeUpstream struct {
	srv   *httptest.Server
	calls atomic.Int32
	last  atomic.Value
}

func newFakeUpstream(t *testing.T, status int, body string) *fakeUpstream {
	f := &fakeUpstream{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		f.last.Store(raw)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{
		Server:   config.ServerConfig{Mode: "test"},
		Upstream: config.UpstreamConfig{BaseURL: baseURL},
	}
	config.SetDefaults(cfg)
	return cfg
}

func newTestServer(t *testing.T, baseURL, apiKey string) (*Server, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := New(testConfig(baseURL), zap.New(core),
		WithAPIKeyFunc(func() string { return apiKey }))
	require.NoError(t, err)
	return s, logs
}

func doRequest(s *Server, method, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/api/chat", reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestChat_MethodNotAllowed(t *testing.T) {
	up := newFakeUpstream(t, 200, `{"choices":[{"message":{"content":"x"}}]}`)
	s, _ := newTestServer(t, up.srv.URL, "gsk_test")

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions} {
		w := doRequest(s, method, `{"message":"hi"}`)
		assert.Equal(t, 405, w.Code, method)
		assert.Equal(t, map[string]string{"error": "Method not allowed. Use POST."}, decodeBody(t, w), method)
	}
	assert.Zero(t, up.calls.Load())
}

func TestChat_NonStandardMethodNotAllowed(t *testing.T) {
	up := newFakeUpstream(t, 200, `{"choices":[{"message":{"content":"x"}}]}`)
	s, _ := newTestServer(t, up.srv.URL, "gsk_test")

	for _, method := range []string{"PROPFIND", "MKCOL", "PURGE"} {
		w := doRequest(s, method, `{"message":"hi"}`)
		assert.Equal(t, 405, w.Code, method)
		assert.Equal(t, http.MethodPost, w.Header().Get("Allow"), method)
		assert.Equal(t, map[string]string{"error": "Method not allowed. Use POST."}, decodeBody(t, w), method)
	}
	assert.Zero(t, up.calls.Load())
}

func TestChat_MessageRequired(t *testing.T) {
	up := newFakeUpstream(t, 200, `{"choices":[{"message":{"content":"x"}}]}`)
	s, logs := newTestServer(t, up.srv.URL, "gsk_test")

	for _, body := range []string{"", `{}`, `{"message":""}`, `{"message":null}`, `{"message":42}`, `not json`} {
		w := doRequest(s, http.MethodPost, body)
		assert.Equal(t, 400, w.Code, body)
		assert.Equal(t, map[string]string{"error": "Message is required"}, decodeBody(t, w), body)
	}
	assert.Zero(t, up.calls.Load())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestChat_MissingAPIKey(t *testing.T) {
	up := newFakeUpstream(t, 200, `{"choices":[{"message":{"content":"x"}}]}`)
	s, _ := newTestServer(t, up.srv.URL, "")

	w := doRequest(s, http.MethodPost, `{"message":"hi"}`)

	assert.Equal(t, 500, w.Code)
	assert.Equal(t, map[string]string{
		"error": "Server Configuration Error: Chat_API environment variable is missing.",
	}, decodeBody(t, w))
	assert.Zero(t, up.calls.Load(), "no outbound call without a key")
}

func TestChat_MissingAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("Chat_API", "")
	up := newFakeUpstream(t, 200, `{"choices":[{"message":{"content":"x"}}]}`)
	s, err := New(testConfig(up.srv.URL), zap.NewNop())
	require.NoError(t, err)

	w := doRequest(s, http.MethodPost, `{"message":"hi"}`)
	assert.Equal(t, 500, w.Code)
	assert.Zero(t, up.calls.Load())

	t.Setenv("Chat_API", "gsk_from_env")
	w = doRequest(s, http.MethodPost, `{"message":"hi"}`)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestChat_Success(t *testing.T) {
	up := newFakeUpstream(t, 200, `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`)
	s, _ := newTestServer(t, up.srv.URL, "gsk_test")

	w := doRequest(s, http.MethodPost, `{"message":"नमस्ते"}`)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, map[string]string{"reply": "Hello!"}, decodeBody(t, w))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var sent struct {
		Model    string           `json:"model"`
		Messages []prompt.Message `json:"messages"`
		Temp     float64          `json:"temperature"`
		Max      int              `json:"max_tokens"`
	}
	require.NoError(t, json.Unmarshal(up.last.Load().([]byte), &sent))
	assert.Equal(t, "llama-3.1-8b-instant", sent.Model)
	assert.Equal(t, 0.7, sent.Temp)
	assert.Equal(t, 1024, sent.Max)
	assert.Equal(t, []prompt.Message{
		{Role: "system", Content: prompt.EcopaySystemPrompt},
		{Role: "user", Content: "नमस्ते"},
	}, sent.Messages)
}

func TestChat_UpstreamErrorStatusRelayed(t *testing.T) {
	up := newFakeUpstream(t, 429, `{"error":{"message":"rate limited"}}`)
	s, logs := newTestServer(t, up.srv.URL, "gsk_test")

	w := doRequest(s, http.MethodPost, `{"message":"hi"}`)

	assert.Equal(t, 429, w.Code)
	assert.Equal(t, map[string]string{"error": "rate limited"}, decodeBody(t, w))
	assert.Equal(t, int32(1), up.calls.Load())

	entries := logs.FilterMessage("Completion API returned an error").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["payload"], "rate limited")
}

func TestChat_UpstreamErrorFallbackMessage(t *testing.T) {
	up := newFakeUpstream(t, 401, `{"error":{"type":"invalid_api_key"}}`)
	s, _ := newTestServer(t, up.srv.URL, "gsk_test")

	w := doRequest(s, http.MethodPost, `{"message":"hi"}`)

	assert.Equal(t, 401, w.Code)
	assert.Equal(t, map[string]string{"error": "Failed to fetch from Groq API"}, decodeBody(t, w))
}

func TestChat_ConnectionRefused(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	s, logs := newTestServer(t, url, "gsk_test")
	w := doRequest(s, http.MethodPost, `{"message":"hi"}`)

	assert.Equal(t, 500, w.Code)
	assert.Equal(t, map[string]string{"error": "An internal server error occurred"}, decodeBody(t, w))
	assert.Equal(t, 1, logs.FilterMessage("Chat relay failed").Len())
}

func TestChat_SuccessWithoutChoices(t *testing.T) {
	up := newFakeUpstream(t, 200, `{"id":"chatcmpl-1"}`)
	s, _ := newTestServer(t, up.srv.URL, "gsk_test")

	w := doRequest(s, http.MethodPost, `{"message":"hi"}`)

	assert.Equal(t, 500, w.Code)
	assert.Equal(t, map[string]string{"error": "An internal server error occurred"}, decodeBody(t, w))
}

func TestChat_SuccessWithoutMessage(t *testing.T) {
	for _, body := range []string{`{"choices":[{}]}`, `{"choices":[{"message":null}]}`} {
		up := newFakeUpstream(t, 200, body)
		s, logs := newTestServer(t, up.srv.URL, "gsk_test")

		w := doRequest(s, http.MethodPost, `{"message":"hi"}`)

		assert.Equal(t, 500, w.Code, body)
		assert.Equal(t, map[string]string{"error": "An internal server error occurred"}, decodeBody(t, w), body)
		assert.Equal(t, 1, logs.FilterMessage("Chat relay failed").Len(), body)
	}
}

func TestChat_UpstreamNullErrorBody(t *testing.T) {
	up := newFakeUpstream(t, 503, `null`)
	s, _ := newTestServer(t, up.srv.URL, "gsk_test")

	w := doRequest(s, http.MethodPost, `{"message":"hi"}`)

	assert.Equal(t, 500, w.Code)
	assert.Equal(t, map[string]string{"error": "An internal server error occurred"}, decodeBody(t, w))
}

func TestChat_Idempotent(t *testing.T) {
	up := newFakeUpstream(t, 200, `{"choices":[{"message":{"content":"Hello!"}}]}`)
	s, _ := newTestServer(t, up.srv.URL, "gsk_test")

	first := doRequest(s, http.MethodPost, `{"message":"hi"}`)
	second := doRequest(s, http.MethodPost, `{"message":"hi"}`)

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, `{"reply":"Hello!"}`, second.Body.String())
	assert.Equal(t, int32(2), up.calls.Load())
}

type stubCompleter struct {
	reply string
	err   error
	got   *completion.Request
}

func (s *stubCompleter) Complete(_ context.Context, req *completion.Request) (string, error) {
	s.got = req
	return s.reply, s.err
}

func TestChat_UsesInjectedClient(t *testing.T) {
	stub := &stubCompleter{reply: "🌱 Offset your flights"}
	cfg := testConfig("http://unused.invalid")
	cfg.Defaults.SystemPrompt = "custom persona"

	s, err := New(cfg, zap.NewNop(),
		WithCompletionClient(stub),
		WithAPIKeyFunc(func() string { return "gsk_injected" }))
	require.NoError(t, err)

	w := doRequest(s, http.MethodPost, `{"message":"how green am I?"}`)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, map[string]string{"reply": "🌱 Offset your flights"}, decodeBody(t, w))
	require.NotNil(t, stub.got)
	assert.Equal(t, "gsk_injected", stub.got.APIKey)
	assert.Equal(t, "custom persona", stub.got.Messages[0].Content)
	assert.Equal(t, "how green am I?", stub.got.Messages[1].Content)
}
