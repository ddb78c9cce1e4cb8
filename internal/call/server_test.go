package call

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-call-translator/internal/asr"
	"realtime-call-translator/internal/streaming"
	"realtime-call-translator/internal/translate"
)

type fixedRecognizer struct {
	text  string
	calls atomic.Int32
}

func (r *fixedRecognizer) Transcribe(context.Context, []byte, string) (asr.Result, error) {
	r.calls.Add(1)
	return asr.Result{Text: r.text}, nil
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	rec    *fixedRecognizer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &fixedRecognizer{text: "hello"}
	s := NewServer(ctx, Options{
		Recognizer:       rec,
		Translator:       translate.Stub{},
		Streaming:        streaming.Config{Interval: 10 * time.Millisecond, MinBytes: 100},
		RoleInfoInterval: time.Hour,
	})

	upgrader := websocket.Upgrader{}
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.HandleConn(ws, Identity{Username: r.URL.Query().Get("user")})
	}))
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		hs.Close()
		cancel()
	})
	return &testEnv{server: s, http: hs, rec: rec}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, user string) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *testClient) sendAudio(n int) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, make([]byte, n)))
}

// next reads the next frame and checks its type.
func (c *testClient) next(want string) map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var frame map[string]any
	require.NoError(c.t, json.Unmarshal(data, &frame))
	require.Equal(c.t, want, frame["type"], "frame: %s", data)
	return frame
}

func (c *testClient) createSession(name string) string {
	c.t.Helper()
	c.send(map[string]any{"type": TypeSessionCreate, "name": name})
	f := c.next(TypeSessionCreated)
	return f["session"].(map[string]any)["session_id"].(string)
}

func TestPingAndProtocolErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "alice")

	c.send(map[string]string{"type": TypePing})
	f := c.next(TypePong)
	assert.NotEmpty(t, f["timestamp"])

	c.send(map[string]string{"type": "dance"})
	assert.Contains(t, c.next(TypeError)["message"], "Unknown message type")

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	c.next(TypeError)

	c.send(map[string]string{"type": TypeSessionJoin})
	assert.Equal(t, "No session ID provided", c.next(TypeError)["message"])

	c.send(map[string]string{"type": TypeSessionLeave})
	assert.Equal(t, "Not in a session or failed to leave", c.next(TypeError)["message"])

	c.send(map[string]string{"type": TypePing})
	c.next(TypePong)
}

func TestConfigMergesPartialUpdates(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "alice")

	c.send(map[string]string{"type": TypeConfig, "target_language": "fr"})
	cfg := c.next(TypeConfigUpdated)["config"].(map[string]any)
	assert.Equal(t, "alice", cfg["username"])
	assert.Equal(t, "speaker", cfg["role"])
	assert.Equal(t, "en", cfg["source_language"])
	assert.Equal(t, "fr", cfg["target_language"])
	assert.NotEmpty(t, cfg["client_id"])

	c.send(map[string]string{"type": TypeConfig, "role": "narrator", "source_language": "de"})
	assert.Contains(t, c.next(TypeError)["message"], "Invalid role")

	c.send(map[string]string{"type": TypeConfig, "role": "listener", "username": "al"})
	cfg = c.next(TypeConfigUpdated)["config"].(map[string]any)
	assert.Equal(t, "listener", cfg["role"])
	assert.Equal(t, "al", cfg["username"])
	assert.Equal(t, "en", cfg["source_language"], "rejected frame changes nothing")
}

func TestDefaultUsernameFromClientID(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "")

	c.send(map[string]string{"type": TypeConfig})
	cfg := c.next(TypeConfigUpdated)["config"].(map[string]any)
	id := cfg["client_id"].(string)
	assert.Equal(t, "User-"+id[:8], cfg["username"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")
	b := env.dial(t, "bob")
	c := env.dial(t, "carol")

	id := a.createSession("standup")

	b.send(map[string]string{"type": TypeSessionJoin, "session_id": id})
	joined := b.next(TypeSessionJoined)["session"].(map[string]any)
	assert.Equal(t, float64(2), joined["participant_count"])
	assert.Equal(t, "standup", joined["name"])
	assert.NotContains(t, joined, "participants")
	assert.Equal(t, "bob", a.next(TypeParticipantJoin)["username"])

	c.send(map[string]string{"type": TypeSessionJoin, "session_id": id})
	assert.Contains(t, c.next(TypeError)["message"], "full")

	c.send(map[string]string{"type": TypeSessionJoin, "session_id": "nope"})
	assert.Contains(t, c.next(TypeError)["message"], "no longer exists")

	b.send(map[string]string{"type": TypeConfig})
	assert.Equal(t, id, b.next(TypeConfigUpdated)["config"].(map[string]any)["session_id"])

	b.send(map[string]string{"type": TypeSessionLeave})
	assert.Equal(t, "Successfully left session", b.next(TypeSessionLeft)["message"])
	assert.Equal(t, "bob", a.next(TypeParticipantLeft)["username"])

	a.send(map[string]string{"type": TypeSessionLeave})
	a.next(TypeSessionLeft)
	assert.Zero(t, env.server.Sessions().Count())
}

func TestSessionCreateLeavesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")
	b := env.dial(t, "bob")

	first := a.createSession("first")
	b.send(map[string]string{"type": TypeSessionJoin, "session_id": first})
	b.next(TypeSessionJoined)
	a.next(TypeParticipantJoin)

	second := a.createSession("second")
	assert.NotEqual(t, first, second)
	assert.Equal(t, "alice", b.next(TypeParticipantLeft)["username"])

	sum, ok := env.server.Sessions().GetSession(first)
	require.True(t, ok)
	assert.Equal(t, 1, sum.ParticipantCount)
}

func TestRejoiningOwnSessionKeepsIt(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")

	id := a.createSession("solo")
	a.send(map[string]string{"type": TypeSessionJoin, "session_id": id})
	joined := a.next(TypeSessionJoined)["session"].(map[string]any)
	assert.Equal(t, id, joined["session_id"])
	assert.Equal(t, float64(1), joined["participant_count"])

	assert.Equal(t, 1, env.server.Sessions().Count())
	a.send(map[string]string{"type": TypeConfig})
	assert.Equal(t, id, a.next(TypeConfigUpdated)["config"].(map[string]any)["session_id"])
}

func TestFailedJoinKeepsCurrentSession(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")
	b := env.dial(t, "bob")
	c := env.dial(t, "carol")
	d := env.dial(t, "dave")

	s1 := a.createSession("one")
	b.send(map[string]string{"type": TypeSessionJoin, "session_id": s1})
	b.next(TypeSessionJoined)
	a.next(TypeParticipantJoin)

	s2 := c.createSession("two")
	d.send(map[string]string{"type": TypeSessionJoin, "session_id": s2})
	d.next(TypeSessionJoined)
	c.next(TypeParticipantJoin)

	b.send(map[string]string{"type": TypeSessionJoin, "session_id": s2})
	assert.Contains(t, b.next(TypeError)["message"], "full")
	b.send(map[string]string{"type": TypeSessionJoin, "session_id": "gone"})
	assert.Contains(t, b.next(TypeError)["message"], "no longer exists")

	b.send(map[string]string{"type": TypeConfig})
	assert.Equal(t, s1, b.next(TypeConfigUpdated)["config"].(map[string]any)["session_id"])

	// alice saw no departure: her next frame answers her own ping
	a.send(map[string]string{"type": TypePing})
	a.next(TypePong)

	sum, ok := env.server.Sessions().GetSession(s1)
	require.True(t, ok)
	assert.Equal(t, 2, sum.ParticipantCount)
}

func TestJoinOtherSessionMovesClient(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")
	b := env.dial(t, "bob")
	c := env.dial(t, "carol")

	s1 := a.createSession("one")
	b.send(map[string]string{"type": TypeSessionJoin, "session_id": s1})
	b.next(TypeSessionJoined)
	a.next(TypeParticipantJoin)

	s2 := c.createSession("two")
	b.send(map[string]string{"type": TypeSessionJoin, "session_id": s2})
	joined := b.next(TypeSessionJoined)["session"].(map[string]any)
	assert.Equal(t, s2, joined["session_id"])
	assert.Equal(t, "bob", a.next(TypeParticipantLeft)["username"])
	assert.Equal(t, "bob", c.next(TypeParticipantJoin)["username"])

	sum, ok := env.server.Sessions().GetSession(s1)
	require.True(t, ok)
	assert.Equal(t, 1, sum.ParticipantCount)
}

func TestSpeechIsTranscribedAndRelayedToPeers(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")
	b := env.dial(t, "bob")

	b.send(map[string]string{"type": TypeConfig, "target_language": "fr"})
	b.next(TypeConfigUpdated)

	id := a.createSession("call")
	b.send(map[string]string{"type": TypeSessionJoin, "session_id": id})
	b.next(TypeSessionJoined)
	a.next(TypeParticipantJoin)

	a.sendAudio(400)

	tr := a.next(TypeTranscription)
	assert.Equal(t, "hello", tr["text"])
	assert.Equal(t, 1.0, tr["confidence"])

	own := a.next(TypeTranslation)
	assert.Equal(t, "hello", own["original_text"])
	assert.Equal(t, "[es] hello", own["translated_text"])
	assert.Equal(t, "en", own["source_language"])
	assert.Equal(t, "es", own["target_language"])
	assert.NotContains(t, own, "speaker")

	peer := b.next(TypeTranslation)
	assert.Equal(t, "[fr] hello", peer["translated_text"])
	assert.Equal(t, "fr", peer["target_language"])
	assert.Equal(t, "alice", peer["speaker"])
}

func TestListenerAudioIsQueuedButNotRecognized(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "lisa")

	c.send(map[string]string{"type": TypeConfig, "role": "listener"})
	c.next(TypeConfigUpdated)

	c.sendAudio(400)
	info := c.next(TypeRoleInfo)
	assert.Equal(t, "listener", info["role"])
	assert.Contains(t, info, "queue_size")

	// throttled: the second notice is suppressed
	c.sendAudio(400)
	time.Sleep(50 * time.Millisecond)
	c.send(map[string]string{"type": TypePing})
	c.next(TypePong)

	assert.Zero(t, env.rec.calls.Load())
}

func TestDisconnectCleansUpAndNotifiesPeers(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")
	b := env.dial(t, "bob")

	id := a.createSession("call")
	b.send(map[string]string{"type": TypeSessionJoin, "session_id": id})
	b.next(TypeSessionJoined)
	a.next(TypeParticipantJoin)
	b.sendAudio(10)

	require.NoError(t, b.conn.Close())

	assert.Equal(t, "bob", a.next(TypeParticipantLeft)["username"])
	assert.Eventually(t, func() bool { return env.server.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return env.server.opts.Queues.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	sum, ok := env.server.Sessions().GetSession(id)
	require.True(t, ok)
	assert.Equal(t, 1, sum.ParticipantCount)

	a.send(map[string]string{"type": TypePing})
	a.next(TypePong)
}

func TestExpiredSessionNotifiesClients(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "alice")
	id := a.createSession("idle")

	expired := env.server.Sessions().Sweep(time.Now().Add(time.Hour))
	require.Len(t, expired, 1)

	f := a.next(TypeSessionExpired)
	assert.Equal(t, id, f["session_id"])

	a.send(map[string]string{"type": TypeSessionLeave})
	a.next(TypeError)
}
