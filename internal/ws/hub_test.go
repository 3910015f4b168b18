package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/aggregate"
	"github.com/captrace/captrace/internal/capture"
	"github.com/captrace/captrace/internal/detect"
	"github.com/captrace/captrace/internal/export"
	"github.com/captrace/captrace/internal/rules"
	"github.com/captrace/captrace/pkg/models"
)

type staticRules struct{}

func (staticRules) Current() *rules.Set { return rules.Default() }

func newTestHub(t *testing.T) (*aggregate.Manager, *detect.Registry, string, string) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	storageDir := t.TempDir()

	agg := aggregate.NewManager(100, 10, 4, logger)
	writer, err := export.NewBundleWriter(storageDir)
	require.NoError(t, err)
	exporter := export.NewExporter(agg, writer, logger)
	registry := detect.NewRegistry(logger)
	interceptor := capture.NewInterceptor(staticRules{}, logger)
	hub := NewHub(registry, agg, interceptor, exporter, staticRules{}, logger)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleFrameConnection))
	t.Cleanup(srv.Close)
	return agg, registry, "ws" + strings.TrimPrefix(srv.URL, "http"), storageDir
}

// frameClient drives one frame connection the way an in-page script would.
type frameClient struct {
	t       *testing.T
	conn    *websocket.Conn
	tabID   string
	frame   models.FrameInfo
	frameID string
}

func dialFrame(t *testing.T, url, tabID string, frame models.FrameInfo) *frameClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &frameClient{t: t, conn: conn, tabID: tabID, frame: frame}
	c.send(models.TypeGetActivatedState, nil)
	reg := c.readReply()
	require.Equal(t, "frame-registered", reg.Type)
	raw, err := json.Marshal(reg.Payload)
	require.NoError(t, err)
	var fi models.FrameInfo
	require.NoError(t, json.Unmarshal(raw, &fi))
	c.frameID = fi.FrameID
	c.readReply()
	return c
}

func (c *frameClient) send(msgType string, payload any) {
	c.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(c.t, err)
		raw = b
	}
	require.NoError(c.t, c.conn.WriteJSON(models.Envelope{
		Type:    msgType,
		TabID:   c.tabID,
		Frame:   c.frame,
		Payload: raw,
	}))
}

func (c *frameClient) readReply() models.Reply {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r models.Reply
	require.NoError(c.t, c.conn.ReadJSON(&r))
	return r
}

// sync waits until every message sent before it has been handled: the hub
// processes one connection's messages in order.
func (c *frameClient) sync() {
	c.t.Helper()
	c.send(models.TypeGetActivatedState, nil)
	for {
		if r := c.readReply(); r.Type == models.TypeGetActivatedState {
			return
		}
	}
}

func captchaSnapshot() models.DOMSnapshot {
	return models.DOMSnapshot{
		Nodes: []models.DOMNode{
			{Index: 0, Parent: -1, Tag: "html", Rect: models.Rect{Width: 1280, Height: 800}, Visible: true},
			{Index: 1, Parent: 0, Tag: "body", Rect: models.Rect{Width: 1280, Height: 800}, Visible: true},
			{Index: 2, Parent: 1, Tag: "div", Classes: []string{"h-captcha"},
				Rect: models.Rect{Width: 300, Height: 400}, Visible: true},
		},
		Viewport: models.Viewport{Width: 1280, Height: 800},
	}
}

func seedImage(seq string) models.CapturedImage {
	return models.CapturedImage{
		URL:     "https://imgs.hcaptcha.com/" + seq,
		DataURL: "data:image/png;base64," + seq + strings.Repeat("A", 300),
	}
}

func TestLateConnectingFrameIsArmed(t *testing.T) {
	agg, registry, url, _ := newTestHub(t)

	top := dialFrame(t, url, "tab1", models.FrameInfo{URL: "https://a.test/x", IsTop: true})
	top.send(models.TypeActivatedState, models.ActivatedStatePayload{Activated: true, Consent: true})
	top.sync()
	require.True(t, agg.IsActivated("tab1"))

	// The CAPTCHA iframe loads after activation; its frame connects late.
	child := dialFrame(t, url, "tab1", models.FrameInfo{URL: "https://captcha.test/widget", Depth: 1})
	child.send(models.TypeDOMSnapshot, captchaSnapshot())
	child.sync()

	agent := registry.Get("tab1", child.frameID)
	require.NotNil(t, agent)
	assert.True(t, agent.Recording())
}

func TestActivationWithoutConsentDoesNotArm(t *testing.T) {
	agg, registry, url, _ := newTestHub(t)

	top := dialFrame(t, url, "tab1", models.FrameInfo{URL: "https://a.test/x", IsTop: true})
	top.send(models.TypeActivatedState, models.ActivatedStatePayload{Activated: true, Consent: false})
	top.sync()
	require.True(t, agg.IsActivated("tab1"))

	child := dialFrame(t, url, "tab1", models.FrameInfo{URL: "https://captcha.test/widget", Depth: 1})
	child.send(models.TypeDOMSnapshot, captchaSnapshot())
	child.sync()

	agent := registry.Get("tab1", child.frameID)
	require.NotNil(t, agent)
	assert.False(t, agent.Recording())
}

func TestChildFrameCannotDriveTabState(t *testing.T) {
	agg, _, url, storageDir := newTestHub(t)

	top := dialFrame(t, url, "tab1", models.FrameInfo{URL: "https://a.test/x", IsTop: true})
	top.send(models.TypeActivatedState, models.ActivatedStatePayload{Activated: true, Consent: true})
	top.sync()

	agg.ReportCursorPoints("tab1", []models.CursorPoint{{T: 100, FrameID: "f1"}})
	agg.ReportImages("tab1", []models.CapturedImage{seedImage("img1")})

	child := dialFrame(t, url, "tab1", models.FrameInfo{URL: "https://evil.test/frame", Depth: 3})
	child.send(models.TypeExportSession, map[string]bool{"clear": true})
	child.send(models.TypeClearImages, nil)
	child.send(models.TypeClearCursorData, nil)
	child.send(models.TypeRecordingStarted, nil)
	child.sync()

	// Nothing was exported or cleared on the child's behalf.
	entries, err := os.ReadDir(storageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, agg.Images("tab1"), 1)
	data, err := agg.AggregatedData("tab1")
	require.NoError(t, err)
	assert.Len(t, data.CursorPoints, 1)

	// recording-started was ignored: an image burst infers no round.
	agg.ReportImages("tab1", []models.CapturedImage{
		seedImage("img2"), seedImage("img3"), seedImage("img4"),
	})
	data, err = agg.AggregatedData("tab1")
	require.NoError(t, err)
	assert.Zero(t, data.Rounds)
}

func TestChildFrameActivationIgnored(t *testing.T) {
	agg, _, url, _ := newTestHub(t)

	child := dialFrame(t, url, "tab1", models.FrameInfo{URL: "https://evil.test/frame", Depth: 1})
	child.send(models.TypeActivatedState, models.ActivatedStatePayload{Activated: true, Consent: true})
	child.sync()

	assert.False(t, agg.IsActivated("tab1"))
}
