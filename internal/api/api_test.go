package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omega/internal/channel"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeGateway struct {
	active int
	depth  map[string]int
}

func (f fakeGateway) ActiveSenders() int       { return f.active }
func (f fakeGateway) QueueDepth(key string) int { return f.depth[key] }

type fakeChannel struct {
	sent []channel.Outgoing
	err  error
}

func (f *fakeChannel) Start(ctx context.Context, handler func(channel.Incoming)) error {
	return nil
}
func (f *fakeChannel) Send(target string, msg channel.Outgoing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) SendTyping(target string) error                             { return nil }
func (f *fakeChannel) SendPhoto(target string, data []byte, filename string) error { return nil }
func (f *fakeChannel) Stop() error                                                 { return nil }

func TestHealthNeverRequiresAPIKey(t *testing.T) {
	s := NewServer(fakeGateway{}, channel.NewRegistry(), "secret")
	router := s.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusRejectsMissingAPIKey(t *testing.T) {
	s := NewServer(fakeGateway{active: 2}, channel.NewRegistry(), "secret")
	router := s.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusReportsActiveSendersWithValidKey(t *testing.T) {
	s := NewServer(fakeGateway{active: 3, depth: map[string]int{"telegram:u1": 2}}, channel.NewRegistry(), "secret")
	router := s.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status?key=telegram:u1", nil)
	req.Header.Set("X-Omega-Api-Key", "secret")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_senders":3`)
	assert.Contains(t, rec.Body.String(), `"queue_depth":2`)
}

func TestSendMessageDispatchesThroughNamedChannel(t *testing.T) {
	reg := channel.NewRegistry()
	ch := &fakeChannel{}
	reg.Register("telegram", ch)
	s := NewServer(fakeGateway{}, reg, "")

	router := s.Router()
	body := bytes.NewBufferString(`{"channel":"telegram","target":"u1","text":"reminder"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/send", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "reminder", ch.sent[0].Text)
}

func TestSendMessageRejectsUnknownChannel(t *testing.T) {
	s := NewServer(fakeGateway{}, channel.NewRegistry(), "")
	router := s.Router()

	body := bytes.NewBufferString(`{"channel":"nope","target":"u1","text":"hi"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/send", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageRejectsMalformedBody(t *testing.T) {
	s := NewServer(fakeGateway{}, channel.NewRegistry(), "")
	router := s.Router()

	body := bytes.NewBufferString(`{"channel":"telegram"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/send", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
