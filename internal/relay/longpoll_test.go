package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

func newTestPollHandler() (*Gateway, *PollHandler) {
	_, gw := newTestGateway()
	return gw, NewPollHandler(gw, zap.NewNop(), 50*time.Millisecond)
}

func openPollSession(t *testing.T, h *PollHandler, clientID string) OpenResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Open(rec, httptest.NewRequest(http.MethodPost, "/poll/open?clientId="+clientID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OpenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SID)
	return resp
}

func postEnvelope(t *testing.T, h *PollHandler, sid string, env protocol.Envelope) {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/poll?sid="+sid, bytes.NewReader(body)))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func pollOnce(t *testing.T, h *PollHandler, sid string) []protocol.Envelope {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/poll?sid="+sid, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var batch []protocol.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	return batch
}

func TestPollOpenSendReceive(t *testing.T) {
	_, h := newTestPollHandler()
	sess := openPollSession(t, h, "alice")
	assert.Equal(t, "alice", sess.ClientID)

	postEnvelope(t, h, sess.SID, protocol.MustEncode(protocol.EventJoin, protocol.Join{Room: "crypt"}))

	batch := pollOnce(t, h, sess.SID)
	require.Len(t, batch, 2)
	assert.Equal(t, protocol.EventJoined, batch[0].Event)
	assert.Equal(t, protocol.EventDungeonSeed, batch[1].Event)
}

func TestPollBatchesPendingEnvelopes(t *testing.T) {
	gw, h := newTestPollHandler()
	sess := openPollSession(t, h, "alice")

	s, ok := gw.Lookup("alice")
	require.True(t, ok)
	require.NoError(t, s.Endpoint().Push(protocol.Envelope{Event: "a"}))
	require.NoError(t, s.Endpoint().Push(protocol.Envelope{Event: "b"}))

	batch := pollOnce(t, h, sess.SID)
	assert.Equal(t, []string{"a", "b"}, events(batch))
}

func TestPollTimesOutEmpty(t *testing.T) {
	_, h := newTestPollHandler()
	sess := openPollSession(t, h, "alice")

	start := time.Now()
	batch := pollOnce(t, h, sess.SID)
	assert.Empty(t, batch)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPollUnknownSessionIsGone(t *testing.T) {
	_, h := newTestPollHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/poll?sid=nope", nil))
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestPollMalformedFrameIsDiscarded(t *testing.T) {
	gw, h := newTestPollHandler()
	sess := openPollSession(t, h, "alice")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/poll?sid="+sess.SID, bytes.NewReader([]byte(`{"event":`))))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The session survives bad input.
	_, ok := gw.Lookup("alice")
	assert.True(t, ok)
}

func TestMissedPollWindowsDropTransport(t *testing.T) {
	gw, h := newTestPollHandler()
	sess := openPollSession(t, h, "alice")
	postEnvelope(t, h, sess.SID, protocol.MustEncode(protocol.EventJoin, protocol.Join{Room: "crypt"}))

	// Two full windows pass with no poll.
	h.now = func() time.Time { return time.Now().Add(time.Second) }
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/poll?sid="+sess.SID, nil))
	assert.Equal(t, http.StatusGone, rec.Code)

	// The logical identity freed up for a reconnect.
	again := gw.Connect("alice")
	assert.False(t, again.Duplicate())
}
