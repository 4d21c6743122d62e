package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	capnpcore "github.com/cloudflare/capnpcore"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()
	return New(&log)
}

// marshalTextMessage frames a message whose root is the given text field.
func marshalTextMessage(t *testing.T, text string) []byte {
	t.Helper()
	msg, seg, err := capnpcore.NewMessage(capnpcore.NewMultiSegmentArena(8, capnpcore.GeometricGrowth))
	require.NoError(t, err)
	p, err := capnpcore.NewText(seg, text)
	require.NoError(t, err)
	require.NoError(t, msg.SetRoot(p))
	buf, err := msg.Marshal()
	require.NoError(t, err)
	return buf
}

func TestHealthz(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestDecodeReportsSegmentLayout(t *testing.T) {
	s := testServer(t)
	body := marshalTextMessage(t, "hello over http")

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp decodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.SegmentCount, 1)
	assert.Len(t, resp.SegmentSizes, resp.SegmentCount)
	assert.NotZero(t, resp.TotalBytes)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestCanonicalizeReturnsSingleSegmentBytes(t *testing.T) {
	s := testServer(t)
	body := marshalTextMessage(t, "canonical me")

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/canonicalize", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	canon := rec.Body.Bytes()
	require.NotEmpty(t, canon)
	assert.Zero(t, len(canon)%8, "canonical bytes must be word-aligned")
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
