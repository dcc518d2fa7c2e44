package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenrelay/tokenrelay/internal/logstore"
	"github.com/tokenrelay/tokenrelay/internal/stream"
)

func newTestServer(t *testing.T, store logstore.Store) *httptest.Server {
	t.Helper()
	pub := stream.NewPublisher(store, stream.Config{
		PollInterval:      2 * time.Millisecond,
		KeepaliveInterval: time.Hour,
		MaxDuration:       5 * time.Second,
	})
	srv := httptest.NewServer(New(store, pub, stream.NewIngester(store), nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func newJetStreamStore(t *testing.T) *logstore.JetStream {
	t.Helper()
	srv, err := logstore.NewEmbeddedServer(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	nc, err := srv.Connect()
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })

	js, err := nc.JetStream()
	require.NoError(t, err)
	store, err := logstore.NewJetStream(js)
	require.NoError(t, err)
	return store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestStreamEndpointBackendUnconfigured(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/stream/abc")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"Streaming not available"}`, string(body))
}

func TestStreamEndpointInvalidID(t *testing.T) {
	srv := newTestServer(t, newJetStreamStore(t))

	for _, id := range []string{"has%20space", "semi;colon", "dot.dot", "a_b"} {
		resp, err := http.Get(srv.URL + "/api/stream/" + id)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "id %q", id)
		assert.JSONEq(t, `{"error":"Invalid stream ID format"}`, string(body))
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProducerAndReaderEndToEnd(t *testing.T) {
	srv := newTestServer(t, newJetStreamStore(t))

	created := decodeBody(t, postJSON(t, srv.URL+"/api/stream/", nil))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	first := decodeBody(t, postJSON(t, srv.URL+"/api/stream/"+id+"/append", map[string]any{"delta": "Hi", "ts": 1}))
	assert.Equal(t, "1-0", first["id"])
	decodeBody(t, postJSON(t, srv.URL+"/api/stream/"+id+"/append", map[string]any{"delta": " there", "ts": 2}))

	completed := postJSON(t, srv.URL+"/api/stream/"+id+"/complete", map[string]any{"totalTokens": 2})
	assert.Equal(t, http.StatusOK, completed.StatusCode)
	completed.Body.Close()

	// Appends after completion are refused.
	refused := postJSON(t, srv.URL+"/api/stream/"+id+"/append", map[string]any{"delta": "late"})
	assert.Equal(t, http.StatusConflict, refused.StatusCode)
	refused.Body.Close()

	resp, err := http.Get(srv.URL + "/api/stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `"delta":"Hi"`)
	assert.Contains(t, body, `"delta":" there"`)
	assert.Contains(t, body, "event: complete\n")
	assert.Contains(t, body, `"totalTokens":2`)
	assert.NotContains(t, body, "late")

	// Reconnect from the first entry's id: only the second token again.
	resp, err = http.Get(srv.URL + "/api/stream/" + id + "?cursor=1-0")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"delta":"Hi"`)
	assert.Contains(t, string(raw), `"delta":" there"`)
}

func TestIngestEndpoint(t *testing.T) {
	srv := newTestServer(t, newJetStreamStore(t))

	created := decodeBody(t, postJSON(t, srv.URL+"/api/stream/", nil))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	sse := "event: content_block_delta\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}` + "\n\n" +
		"event: message_delta\n" +
		`data: {"type":"message_delta","usage":{"output_tokens":5}}` + "\n\n"

	resp, err := http.Post(srv.URL+"/api/stream/"+id+"/ingest", "text/event-stream", strings.NewReader(sse))
	require.NoError(t, err)
	result := decodeBody(t, resp)
	assert.Equal(t, float64(1), result["entries"])
	assert.Equal(t, float64(5), result["totalTokens"])
	assert.Equal(t, "completed", result["status"])

	get, err := http.Get(srv.URL + "/api/stream/" + id)
	require.NoError(t, err)
	defer get.Body.Close()
	raw, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"delta":"Hello"`)
	assert.Contains(t, string(raw), "event: complete\n")
}

func TestTerminalEndpointsUnknownStream(t *testing.T) {
	srv := newTestServer(t, newJetStreamStore(t))

	// Completing or failing a never-created id must not mint metadata.
	for _, path := range []string{"/complete", "/fail"} {
		resp := postJSON(t, srv.URL+"/api/stream/no-such-stream"+path, map[string]any{})
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "path %s", path)
		assert.JSONEq(t, `{"error":"Stream not found"}`, string(body))
	}
}

func TestFailEndpoint(t *testing.T) {
	srv := newTestServer(t, newJetStreamStore(t))

	created := decodeBody(t, postJSON(t, srv.URL+"/api/stream/", nil))
	id, _ := created["id"].(string)

	resp := postJSON(t, srv.URL+"/api/stream/"+id+"/fail", map[string]any{"error": "upstream failed"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	get, err := http.Get(srv.URL + "/api/stream/" + id)
	require.NoError(t, err)
	defer get.Body.Close()
	raw, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "event: error\n")
	assert.Contains(t, string(raw), `{"error":"upstream failed"}`)
}
