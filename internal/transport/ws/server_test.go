package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/bridge"
	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/hostworld"
	"github.com/roach88/scenebridge/internal/journal"
	"github.com/roach88/scenebridge/internal/pool"
	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	mgr    *scene.Manager
	pools  *pool.Registry
	mirror *hostworld.Mirror
	url    string
}

func newFixture(t *testing.T, opts ...scene.Option) *fixture {
	t.Helper()
	f := &fixture{
		pools:  pool.NewRegistry(),
		mirror: hostworld.NewMirror(quietLogger()),
	}
	opts = append([]scene.Option{
		scene.WithIDGenerator(testutil.NewFixedSceneIDs("scene-1", "scene-2")),
		scene.WithSink(&diag.Recorder{}),
		scene.WithLogger(quietLogger()),
	}, opts...)
	f.mgr = scene.NewManager(f.pools, opts...)
	t.Cleanup(f.mgr.Close)

	srv := NewServer(f.mgr, func(string) bridge.HostWorld { return f.mirror }, WithLogger(quietLogger()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	f.url = "ws" + strings.TrimPrefix(ts.URL, "http")
	return f
}

func dial(t *testing.T, url string) (*websocket.Conn, Hello) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var hello Hello
	require.NoError(t, json.Unmarshal(data, &hello))
	return conn, hello
}

func roundTrip(t *testing.T, conn *websocket.Conn, op byte, body []byte) (byte, []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{op}, body...)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.NotEmpty(t, data)
	return data[0], data[1:]
}

func TestServer_Hello(t *testing.T) {
	f := newFixture(t)
	_, hello := dial(t, f.url+"?scene=arena")

	assert.Equal(t, Hello{SceneID: "scene-1", Name: "arena"}, hello)
	sc, ok := f.mgr.Get("scene-1")
	require.True(t, ok)
	assert.Equal(t, "arena", sc.Name())
}

func TestServer_SendToHostAndGetState(t *testing.T) {
	f := newFixture(t)
	conn, hello := dial(t, f.url)
	assert.Equal(t, "scene", hello.Name)

	batch := testutil.Encode(
		testutil.Put(1, 1, 1, "pos"),
		testutil.Append(1, 2, 1, "a"),
		testutil.Append(1, 2, 2, "b"),
	)
	op, resp := roundTrip(t, conn, OpSendToHost, batch)
	assert.Equal(t, OpSendToHost, op)
	assert.Empty(t, testutil.Decode(resp), "no host mutations were pushed")

	v, ok := f.mirror.Component(1, 2)
	require.True(t, ok)
	assert.Equal(t, "ab", string(v))

	op, resp = roundTrip(t, conn, OpGetState, nil)
	assert.Equal(t, OpGetState, op)
	assert.Equal(t, []string{`PutComponent(e=1,c=1,t=1,len=3) "pos"`, `AppendComponent(e=1,c=2,t=2,len=2) "ab"`}, messageStrings(resp))
}

func TestServer_ReturnsHostMutations(t *testing.T) {
	f := newFixture(t)
	conn, hello := dial(t, f.url)

	sc, ok := f.mgr.Get(hello.SceneID)
	require.True(t, ok)
	sc.Outgoing().Push(testutil.Put(9, 1, 4, "cursor"))

	op, resp := roundTrip(t, conn, OpSendToHost, nil)
	assert.Equal(t, OpSendToHost, op)
	msgs := testutil.Decode(resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, "cursor", string(msgs[0].Payload))
}

func TestServer_SuspendedSceneIsUnavailable(t *testing.T) {
	f := newFixture(t)
	conn, hello := dial(t, f.url)

	sc, _ := f.mgr.Get(hello.SceneID)
	require.True(t, sc.Suspend())

	op, resp := roundTrip(t, conn, OpGetState, nil)
	assert.Equal(t, OpUnavailable, op)
	assert.Empty(t, resp)
}

func TestServer_UnknownOpClosesConnection(t *testing.T) {
	f := newFixture(t)
	conn, _ := dial(t, f.url)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{9}))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestServer_TextFrameClosesConnection(t *testing.T) {
	f := newFixture(t)
	conn, _ := dial(t, f.url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestServer_DisconnectUnloadsScene(t *testing.T) {
	f := newFixture(t)
	conn, hello := dial(t, f.url)
	roundTrip(t, conn, OpGetState, nil)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, ok := f.mgr.Get(hello.SceneID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.pools.Outstanding())
}

func TestServer_ResumeFromJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	f := newFixture(t, scene.WithJournal(j, 1))
	conn, hello := dial(t, f.url+"?scene=arena")
	roundTrip(t, conn, OpSendToHost, testutil.Encode(testutil.Put(3, 1, 7, "saved")))
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, ok := f.mgr.Get(hello.SceneID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	conn, resumed := dial(t, f.url+"?resume="+hello.SceneID)
	assert.Equal(t, Hello{SceneID: hello.SceneID, Name: "arena", Resumed: true}, resumed)

	_, resp := roundTrip(t, conn, OpGetState, nil)
	assert.Equal(t, []string{`PutComponent(e=3,c=1,t=7,len=5) "saved"`}, messageStrings(resp))

	last, err := j.LastSeq(context.Background(), hello.SceneID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestServer_ResumeUnknownScene(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	f := newFixture(t, scene.WithJournal(j, 0))
	conn, _, err := websocket.DefaultDialer.Dial(f.url+"?resume=nope", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)
}

func messageStrings(buf []byte) []string {
	var out []string
	for _, m := range testutil.Decode(buf) {
		out = append(out, fmt.Sprintf("%s %q", m, m.Payload))
	}
	return out
}
