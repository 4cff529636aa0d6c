package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni/internal/config"
	"omni/internal/logger"
	"omni/internal/monitoring"
	"omni/internal/publisher"
	"omni/internal/transport"
	"omni/pkg/models"
	"omni/pkg/retry"
)

const token = "test-token"

const webPayload = `{"session_id":"s-1","user_id":"u-1","site_id":"site-1","text":"hi there","message_id":"m-1"}`

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router    *gin.Engine
	transport *transport.Memory
	monitor   *monitoring.Registry
}

func newTestServer(t *testing.T, maxBody int64) *testServer {
	t.Helper()

	mem := transport.NewMemory()
	reg := monitoring.NewRegistry(monitoring.Options{})
	pub := publisher.New(mem, reg, logger.NopLogger(), publisher.Config{
		Policy: retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
	})

	h := NewHandler(Deps{
		Publisher:    pub,
		Monitor:      reg,
		Streams:      config.StreamsConfig{Inbound: "omni.messages", Outbound: "omni.outbound"},
		MaxBodyBytes: maxBody,
		Logger:       logger.NopLogger(),
	})
	router := NewRouter(h, RouterOptions{Logger: logger.NopLogger(), AuthTokens: []string{token}})

	return &testServer{router: router, transport: mem, monitor: reg}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestReceiveWebhook_Publishes(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(http.MethodPost, "/api/v1/webhooks/web", webPayload, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	assert.NotEmpty(t, body["entry_id"])
	assert.Equal(t, "web:m-1", body["idempotency_key"])
	assert.Equal(t, "omni.messages", body["stream_key"])

	entries := s.transport.Entries("omni.messages")
	require.Len(t, entries, 1)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(entries[0].Payload, &env))
	assert.Equal(t, models.DirectionInbound, env.Direction)
	assert.Equal(t, models.ChannelWeb, env.Channel)
	assert.Equal(t, "hi there", env.Text)

	assert.Equal(t, 1, s.monitor.CountSince(monitoring.CounterMessages, time.Minute))
	assert.Equal(t, 1, s.monitor.Hist("omni.messages"+publisher.HistogramSuffix).Count)
}

func TestReceiveWebhook_ChannelIsCaseInsensitive(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(http.MethodPost, "/api/v1/webhooks/WEB", webPayload, nil)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestReceiveWebhook_IdempotencyHeader(t *testing.T) {
	s := newTestServer(t, 0)
	headers := map[string]string{IdempotencyKeyHeader: "order-42"}

	first := s.do(http.MethodPost, "/api/v1/webhooks/web", webPayload, headers)
	second := s.do(http.MethodPost, "/api/v1/webhooks/web", webPayload, headers)
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, http.StatusAccepted, second.Code)

	assert.Equal(t, "order-42", decode(t, first)["idempotency_key"])
	assert.Equal(t, decode(t, first)["entry_id"], decode(t, second)["entry_id"])
	assert.Len(t, s.transport.Entries("omni.messages"), 1)
}

func TestReceiveWebhook_RedeliveryWithoutTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		wantKey string
	}{
		{
			name:    "sms form",
			path:    "/api/v1/webhooks/sms",
			body:    "From=%2B15551234567&To=%2B15557654321&Body=hi&MessageSid=SM123",
			wantKey: "sms:SM123",
		},
		{
			name:    "web",
			path:    "/api/v1/webhooks/web",
			body:    webPayload,
			wantKey: "web:m-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, 0)

			first := s.do(http.MethodPost, tt.path, tt.body, nil)
			time.Sleep(2 * time.Millisecond)
			second := s.do(http.MethodPost, tt.path, tt.body, nil)
			require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())
			require.Equal(t, http.StatusAccepted, second.Code, second.Body.String())

			a, b := decode(t, first), decode(t, second)
			assert.Equal(t, tt.wantKey, a["idempotency_key"])
			assert.Equal(t, a["idempotency_key"], b["idempotency_key"])
			assert.Equal(t, a["entry_id"], b["entry_id"])
			assert.Len(t, s.transport.Entries("omni.messages"), 1)
		})
	}
}

func TestReceiveWebhook_Batch(t *testing.T) {
	s := newTestServer(t, 0)
	payload := `{"entry":[{"changes":[{"value":{
	  "metadata":{"display_phone_number":"15557654321","phone_number_id":"PNID"},
	  "messages":[
	    {"from":"15551234567","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"one"}},
	    {"from":"15551234567","id":"wamid.2","timestamp":"1700000001","type":"text","text":{"body":"two"}}
	  ]}}]}]}`

	w := s.do(http.MethodPost, "/api/v1/webhooks/whatsapp", payload, map[string]string{IdempotencyKeyHeader: "batch"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	messages, ok := decode(t, w)["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "batch:0", messages[0].(map[string]interface{})["idempotency_key"])
	assert.Equal(t, "batch:1", messages[1].(map[string]interface{})["idempotency_key"])

	assert.Len(t, s.transport.Entries("omni.messages"), 2)
	assert.Equal(t, 2, s.monitor.CountSince(monitoring.CounterMessages, time.Minute))
}

func TestReceiveWebhook_SlackChallenge(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(http.MethodPost, "/api/v1/webhooks/slack", `{"token":"tok","challenge":"abc123","type":"url_verification"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"challenge":"abc123"}`, w.Body.String())
	assert.Zero(t, s.transport.Calls())
}

func TestReceiveWebhook_IgnoredEvent(t *testing.T) {
	s := newTestServer(t, 0)
	payload := `{"type":"event_callback","team_id":"T1","event_id":"Ev1","event":{"type":"message","channel":"C1","bot_id":"B1","text":"beep","ts":"1700000000.000100"}}`

	w := s.do(http.MethodPost, "/api/v1/webhooks/slack", payload, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
	assert.Zero(t, s.transport.Calls())
	assert.Zero(t, s.monitor.CountSince(monitoring.CounterErrors, time.Minute))
}

func TestReceiveWebhook_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		auth     string
		maxBody  int64
		wantCode int
		wantKind string
	}{
		{name: "malformed payload", path: "/api/v1/webhooks/whatsapp", body: `{"entry":[]}`, wantCode: http.StatusBadRequest, wantKind: "malformed_payload:whatsapp"},
		{name: "invalid json", path: "/api/v1/webhooks/web", body: `{`, wantCode: http.StatusBadRequest, wantKind: "malformed_payload:web"},
		{name: "unknown channel", path: "/api/v1/webhooks/pigeon", body: `{}`, wantCode: http.StatusNotFound, wantKind: "not_found"},
		{name: "body too large", path: "/api/v1/webhooks/web", body: webPayload, maxBody: 8, wantCode: http.StatusRequestEntityTooLarge, wantKind: "payload_too_large"},
		{name: "bad token", path: "/api/v1/webhooks/web", body: webPayload, auth: "Bearer nope", wantCode: http.StatusUnauthorized, wantKind: "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.maxBody)

			headers := map[string]string{}
			if tt.auth != "" {
				headers["Authorization"] = tt.auth
			}
			w := s.do(http.MethodPost, tt.path, tt.body, headers)

			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantKind, decode(t, w)["error_code"])
			assert.Zero(t, s.transport.Calls())
		})
	}
}

func TestReceiveWebhook_ErrorsAreCounted(t *testing.T) {
	s := newTestServer(t, 0)

	s.do(http.MethodPost, "/api/v1/webhooks/whatsapp", `{"entry":[]}`, nil)
	s.do(http.MethodPost, "/api/v1/webhooks/pigeon", `{}`, nil)

	assert.Equal(t, 2, s.monitor.CountSince(monitoring.CounterErrors, time.Minute))
}

func TestReceiveWebhook_PublishFailed(t *testing.T) {
	s := newTestServer(t, 0)
	s.transport.FailNext(retry.NewRetryableError(assert.AnError), retry.NewRetryableError(assert.AnError))

	w := s.do(http.MethodPost, "/api/v1/webhooks/web", webPayload, nil)
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "publish_failed", body["error_code"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, float64(2), details["attempts"])

	assert.Equal(t, 1, s.monitor.CountSince(monitoring.CounterPublishErrors, time.Minute))
	assert.Equal(t, 1, s.monitor.CountSince(monitoring.CounterErrors, time.Minute))
}

func TestSendMessage(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(http.MethodPost, "/api/v1/messages", `{"channel":"sms","to":{"id":"+15551234567"},"text":"hi"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "omni.outbound", body["stream_key"])
	assert.NotEmpty(t, body["entry_id"])

	preview := body["request"].(map[string]interface{})
	assert.Equal(t, "/Messages.json", preview["endpoint"])
	assert.Contains(t, preview["body"], "Body=hi")

	entries := s.transport.Entries("omni.outbound")
	require.Len(t, entries, 1)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(entries[0].Payload, &env))
	assert.Equal(t, models.DirectionOutbound, env.Direction)
}

func TestSendMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing recipient", body: `{"channel":"sms","text":"hi"}`},
		{name: "unknown channel", body: `{"channel":"fax","to":{"id":"x"},"text":"hi"}`},
		{name: "inbound direction", body: `{"direction":"in","channel":"sms","to":{"id":"+15551234567"},"text":"hi"}`},
		{name: "text not a string", body: `{"channel":"sms","to":{"id":"+15551234567"},"text":5}`},
		{name: "nested metadata", body: `{"channel":"sms","to":{"id":"+15551234567"},"text":"hi","metadata":{"a":{"b":1}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, 0)

			w := s.do(http.MethodPost, "/api/v1/messages", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "outbound_invalid", decode(t, w)["error_code"])
			assert.Zero(t, s.transport.Calls())
		})
	}
}

func TestGetMonitoring(t *testing.T) {
	s := newTestServer(t, 0)
	s.do(http.MethodPost, "/api/v1/webhooks/web", webPayload, nil)

	w := s.do(http.MethodGet, "/api/v1/monitoring", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Counters[monitoring.CounterMessages])
	assert.Equal(t, 1, snap.Histograms["omni.messages_publish_ms"].Count)

	bad := s.do(http.MethodGet, "/api/v1/monitoring?window=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestListChannels(t *testing.T) {
	s := newTestServer(t, 0)

	w := s.do(http.MethodGet, "/api/v1/channels", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, ch := range []string{"discord", "email", "slack", "sms", "telegram", "web", "whatsapp"} {
		assert.True(t, strings.Contains(w.Body.String(), `"`+ch+`"`), ch)
	}
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t, 0)

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
