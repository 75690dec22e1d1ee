package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vcd/internal/config"
	"github.com/OCAP2/vcd/internal/storage"
	"github.com/OCAP2/vcd/pkg/core"
	"github.com/OCAP2/vcd/pkg/streaming"
)

// Compile-time interface checks.
var (
	_ storage.Backend  = (*Backend)(nil)
	_ storage.Exporter = (*Backend)(nil)
)

type serverOpts struct {
	// drop the connection right after acking the first start_document
	dropAfterStart bool
}

// testServer creates an httptest server that upgrades to WebSocket,
// records received messages, and sends acks for start_document/end_document.
func testServer(t *testing.T, opts serverOpts) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}
	var conns atomic.Int32

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeStartDocument || env.Type == streaming.TypeEndDocument {
				ack := streaming.AckMessage{Type: "ack", For: env.Type}
				data, _ := json.Marshal(ack)
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
				if opts.dropAfterStart && n == 1 && env.Type == streaming.TypeStartDocument {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	secret   string
	messages []streaming.Envelope
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) ofType(msgType string) []streaming.Envelope {
	var out []streaming.Envelope
	for _, env := range m.all() {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newBackend(t *testing.T, srv *httptest.Server) *Backend {
	t.Helper()
	b := New(config.StreamConfig{URL: wsURL(srv), Secret: "test"}, nil)
	b.conn.minBackoff = 10 * time.Millisecond
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func span(start, end int) core.FrameIntervals {
	return core.FrameIntervals{{Start: start, End: end}}
}

func TestStartAndEndDocument(t *testing.T) {
	srv, ml := testServer(t, serverOpts{})
	b := newBackend(t, srv)
	b.SetName("crossing")

	require.NoError(t, b.StartDocument())
	require.NoError(t, b.EndDocument())

	msgs := ml.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, streaming.TypeStartDocument, msgs[0].Type)
	assert.Equal(t, streaming.TypeEndDocument, msgs[1].Type)
	assert.Equal(t, "test", ml.secret)

	var start streaming.StartDocumentPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, "crossing", start.Name)
	assert.Equal(t, core.DefaultSchemaVersion, start.SchemaVersion)
}

func TestMutationsAreStreamed(t *testing.T) {
	srv, ml := testServer(t, serverOpts{})
	b := newBackend(t, srv)
	require.NoError(t, b.StartDocument())

	e := &core.Element{Category: core.ElementObject, Name: "mike", Type: "#Pedestrian"}
	require.NoError(t, b.AddElement(e))
	require.NoError(t, b.AddElementData(core.ElementObject, e.UID, core.BBox("body", 0, 0, 10, 20), span(0, 4)))
	require.NoError(t, b.AddElementDataAttribute(core.ElementObject, e.UID, "body", core.Boolean("visible", true)))
	require.NoError(t, b.UpdateElement(core.ElementObject, e.UID, span(8, 9)))
	require.NoError(t, b.ModifyElement(core.ElementObject, e.UID, span(0, 2)))
	require.NoError(t, b.RemoveElement(core.ElementObject, e.UID))
	require.NoError(t, b.EndDocument())

	var types []string
	for _, m := range ml.all() {
		types = append(types, m.Type)
	}
	assert.Equal(t, []string{
		streaming.TypeStartDocument,
		streaming.TypeAddElement,
		streaming.TypeAddElementData,
		streaming.TypeAddElementData,
		streaming.TypeUpdateElement,
		streaming.TypeUpdateElement,
		streaming.TypeRemoveElement,
		streaming.TypeEndDocument,
	}, types)

	msgs := ml.all()

	var added streaming.ElementPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &added))
	assert.Equal(t, "object", added.Category)
	assert.Equal(t, 0, added.UID)
	assert.Equal(t, "#Pedestrian", added.Type)

	var data streaming.ElementDataPayload
	require.NoError(t, json.Unmarshal(msgs[3].Payload, &data))
	assert.Equal(t, "body", data.Data.Name)
	assert.Equal(t, "bbox", data.Data.Kind)
	require.Len(t, data.Data.Attributes, 1)
	assert.Equal(t, "visible", data.Data.Attributes[0].Name)
	assert.Equal(t, span(0, 4), data.FrameIntervals)

	var modified streaming.UpdateElementPayload
	require.NoError(t, json.Unmarshal(msgs[5].Payload, &modified))
	assert.True(t, modified.Replace)
	assert.Equal(t, span(0, 2), modified.FrameIntervals)

	// the embedded document applied every mutation
	assert.False(t, b.Has(core.ElementObject, e.UID))
}

func TestModifyElementInfoIsStreamed(t *testing.T) {
	srv, ml := testServer(t, serverOpts{})
	b := newBackend(t, srv)
	require.NoError(t, b.StartDocument())

	e := &core.Element{Category: core.ElementObject, Name: "mike", Type: "#Pedestrian", Intervals: span(0, 3)}
	require.NoError(t, b.AddElement(e))
	name, typ := "michael", "#Cyclist"
	require.NoError(t, b.ModifyElementInfo(core.ElementObject, e.UID, core.ElementInfo{Name: &name, Type: &typ}))
	// nothing to change, nothing streamed
	require.NoError(t, b.ModifyElementInfo(core.ElementObject, e.UID, core.ElementInfo{}))
	require.NoError(t, b.EndDocument())

	msgs := ml.all()
	require.Len(t, msgs, 4)
	require.Equal(t, streaming.TypeUpdateElement, msgs[2].Type)
	assert.JSONEq(t, `{"category":"object","uid":0,"frame_intervals":[{"frame_start":0,"frame_end":3}],`+
		`"name":"michael","type":"#Cyclist"}`, string(msgs[2].Payload))

	var update streaming.UpdateElementPayload
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &update))
	assert.False(t, update.Replace)
	assert.Equal(t, core.ElementInfo{Name: &name, Type: &typ}, update.Info())

	got, err := b.Element(core.ElementObject, e.UID)
	require.NoError(t, err)
	assert.Equal(t, "michael", got.Name)
	assert.Equal(t, "#Cyclist", got.Type)
}

func TestFailedMutationIsNotStreamed(t *testing.T) {
	srv, ml := testServer(t, serverOpts{})
	b := newBackend(t, srv)
	require.NoError(t, b.StartDocument())

	err := b.AddElementData(core.ElementObject, 7, core.Num("speed", 1), nil)
	require.ErrorIs(t, err, storage.ErrElementNotFound)
	require.NoError(t, b.EndDocument())

	assert.Empty(t, ml.ofType(streaming.TypeAddElementData))
}

func TestRemoveElementsByType(t *testing.T) {
	srv, ml := testServer(t, serverOpts{})
	b := newBackend(t, srv)
	require.NoError(t, b.StartDocument())

	for _, typ := range []string{"#Car", "#Pedestrian", "#Car"} {
		require.NoError(t, b.AddElement(&core.Element{Category: core.ElementObject, Type: typ, Intervals: span(0, 1)}))
	}
	assert.Equal(t, 2, b.RemoveElementsByType(core.ElementObject, "#Car"))
	require.NoError(t, b.EndDocument())

	removed := ml.ofType(streaming.TypeRemoveElement)
	require.Len(t, removed, 2)
	var first streaming.RemoveElementPayload
	require.NoError(t, json.Unmarshal(removed[0].Payload, &first))
	assert.Equal(t, 0, first.UID)
	assert.Equal(t, 1, b.NumElements(core.ElementObject))
}

func TestPublishFrame(t *testing.T) {
	srv, ml := testServer(t, serverOpts{})
	b := newBackend(t, srv)
	require.NoError(t, b.StartDocument())

	e := &core.Element{Category: core.ElementObject, Type: "#Car"}
	require.NoError(t, b.AddElement(e))
	require.NoError(t, b.AddElementData(core.ElementObject, e.UID, core.Num("speed", 3), span(1, 2)))

	require.NoError(t, b.PublishFrame(1))
	require.Error(t, b.PublishFrame(9))
	require.NoError(t, b.EndDocument())

	frames := ml.ofType(streaming.TypeFrame)
	require.Len(t, frames, 1)

	var fp streaming.FramePayload
	require.NoError(t, json.Unmarshal(frames[0].Payload, &fp))
	assert.Equal(t, 1, fp.Frame)

	want, err := b.StringifyFrame(1, false, false)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(fp.VCD))
}

func TestReconnectReplaysStart(t *testing.T) {
	srv, ml := testServer(t, serverOpts{dropAfterStart: true})
	b := newBackend(t, srv)
	require.NoError(t, b.StartDocument())

	assert.Eventually(t, func() bool {
		return len(ml.ofType(streaming.TypeStartDocument)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.AddElement(&core.Element{Category: core.ElementAction, Type: "#Walking"}))
	require.NoError(t, b.EndDocument())

	assert.Len(t, ml.ofType(streaming.TypeAddElement), 1)
}

func TestInitInvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "scheme", url: "http://localhost:1"},
		{name: "unparsable", url: "ws://[::1"},
		{name: "unreachable", url: "ws://127.0.0.1:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(config.StreamConfig{URL: tt.url}, nil)
			require.Error(t, b.Init())
		})
	}
}

func TestStreamURL(t *testing.T) {
	got, err := streamURL("ws://example.org/stream?doc=1", "s3cr=t")
	require.NoError(t, err)
	assert.Equal(t, "ws://example.org/stream?doc=1&secret=s3cr%3Dt", got)

	got, err = streamURL("wss://example.org/stream", "")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.org/stream", got)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv, _ := testServer(t, serverOpts{})
	b := New(config.StreamConfig{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.conn.sendAndWait([]byte(`{}`), streaming.TypeEndDocument, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
}
