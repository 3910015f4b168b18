// Package ws is the frame channel: every page context (one per frame, plus
// the privileged background context) holds one WebSocket connection to the
// Hub and streams envelopes over it. Delivery is at-most-once; send
// failures are swallowed, because a torn-down frame is a normal outcome.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/aggregate"
	"github.com/captrace/captrace/internal/capture"
	"github.com/captrace/captrace/internal/detect"
	"github.com/captrace/captrace/internal/export"
	"github.com/captrace/captrace/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub accepts frame connections and dispatches their envelopes into the
// detection agents and the aggregator.
type Hub struct {
	registry    *detect.Registry
	agg         *aggregate.Manager
	interceptor *capture.Interceptor
	exporter    *export.Exporter
	rules       capture.RuleSource
	logger      *zap.SugaredLogger
}

func NewHub(registry *detect.Registry, agg *aggregate.Manager, interceptor *capture.Interceptor,
	exporter *export.Exporter, rules capture.RuleSource, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		registry:    registry,
		agg:         agg,
		interceptor: interceptor,
		exporter:    exporter,
		rules:       rules,
		logger:      logger,
	}
}

// frameConn is one connected frame context.
type frameConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	tabID string
	agent *detect.Agent
}

// HandleFrameConnection upgrades the request and runs the read loop. The
// single read loop per connection is what gives per-sender ordering.
func (h *Hub) HandleFrameConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("failed to upgrade frame connection", "error", err)
		return
	}
	defer conn.Close()

	fc := &frameConn{conn: conn}
	defer h.teardown(fc)

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("frame connection error", "tab", fc.tabID, "error", err)
			}
			return
		}
		h.handleEnvelope(fc, env)
	}
}

// handleEnvelope dispatches one message. Handling is synchronous per
// connection, so a sender's messages apply in the order it sent them.
func (h *Hub) handleEnvelope(fc *frameConn, env models.Envelope) {
	if env.TabID == "" {
		return
	}
	if fc.agent == nil {
		h.register(fc, env)
	}
	agent := fc.agent

	// State control, session boundaries, and the interception channel are
	// honored only from the top frame; a hostile iframe must not drive the
	// tab's state.
	if privilegedType(env.Type) && !agent.Frame().IsTop {
		h.logger.Debugw("privileged message from child frame ignored",
			"type", env.Type, "tab", fc.tabID)
		return
	}

	switch env.Type {
	case models.TypeDOMSnapshot:
		var snap models.DOMSnapshot
		if decode(env.Payload, &snap) {
			agent.HandleSnapshot(snap)
		}

	case models.TypePointerMove:
		var p models.PointerMovePayload
		if decode(env.Payload, &p) {
			agent.HandlePointerMove(p.X, p.Y)
		}

	case models.TypeUserGesture:
		agent.HandleGesture()

	case models.TypeActivatedState:
		var p models.ActivatedStatePayload
		if !decode(env.Payload, &p) {
			return
		}
		if err := h.agg.SetActivated(fc.tabID, p.Activated); err != nil {
			h.logger.Warnw("activation rejected", "tab", fc.tabID, "error", err)
			h.reply(fc, models.Reply{Type: env.Type, OK: false, Error: err.Error()})
			return
		}
		h.registry.SetArmed(fc.tabID, p.Activated && p.Consent)
		h.reply(fc, models.Reply{Type: env.Type, OK: true})

	case models.TypeCursorPoint:
		var point models.CursorPoint
		if decode(env.Payload, &point) {
			if point.FrameID == "" {
				point.FrameID = agent.Frame().FrameID
				point.FrameURL = agent.Frame().URL
				point.FrameDepth = agent.Frame().Depth
			}
			h.agg.ReportCursorPoints(fc.tabID, []models.CursorPoint{point})
		}

	case models.TypeCaptchaElements:
		var p models.ElementsPayload
		if decode(env.Payload, &p) {
			agent.HandleClientElements(p)
		}

	case models.TypeCaptchaInlineImages:
		var p models.InlineImagesPayload
		if decode(env.Payload, &p) {
			agent.HandleInlineImages(p)
		}

	case models.TypeNetworkImage:
		var p models.NetworkImagePayload
		if !decode(env.Payload, &p) {
			return
		}
		img, err := h.interceptor.Admit(p.URL, p.DeclaredMIME, p.Body)
		if err != nil {
			// Data-quality rejection: already logged by the interceptor.
			return
		}
		h.agg.ReportImages(fc.tabID, []models.CapturedImage{img})

	case models.TypeRecordingStarted:
		h.agg.SetRecording(fc.tabID, true)
	case models.TypeRecordingStopped:
		h.agg.SetRecording(fc.tabID, false)

	case models.TypeClearCursorData:
		h.agg.ClearCursor(fc.tabID)
	case models.TypeClearImages:
		h.agg.ClearImages(fc.tabID)

	case models.TypeGetAggregatedData:
		data, err := h.agg.AggregatedData(fc.tabID)
		if err != nil {
			h.reply(fc, models.Reply{Type: env.Type, OK: false, Error: err.Error()})
			return
		}
		h.reply(fc, models.Reply{Type: env.Type, OK: true, Payload: data})

	case models.TypeGetCapturedImages:
		h.reply(fc, models.Reply{Type: env.Type, OK: true, Payload: h.agg.Images(fc.tabID)})

	case models.TypeGetActivatedState:
		h.reply(fc, models.Reply{Type: env.Type, OK: true, Payload: h.agg.IsActivated(fc.tabID)})

	case models.TypeExportSession:
		var p struct {
			Clear bool `json:"clear"`
		}
		decode(env.Payload, &p)
		h.ExportTab(fc.tabID, "requested", p.Clear)

	case models.TypeTabClosed:
		h.CloseTab(fc.tabID)

	default:
		h.logger.Debugw("unknown message type", "type", env.Type, "tab", fc.tabID)
	}
}

// register creates the frame's agent on its first envelope. The frame ID is
// generated here, once per connection lifetime.
func (h *Hub) register(fc *frameConn, env models.Envelope) {
	frame := env.Frame
	frame.FrameID = uuid.New().String()
	if frame.Depth == 0 && !frame.IsTop {
		frame.IsTop = true
	}

	fc.tabID = env.TabID
	fc.agent = detect.NewAgent(env.TabID, frame, h.rules, h.agg, h.ExportTab, h.logger)
	h.registry.Add(fc.agent)

	h.reply(fc, models.Reply{Type: "frame-registered", OK: true, Payload: frame})
}

// ExportTab assembles top-frame metadata and triggers an export. This is
// the ExportFunc handed to every agent; failures other than the empty-image
// gate are logged and otherwise dropped.
func (h *Hub) ExportTab(tabID, reason string, clear bool) {
	meta := export.Meta{Frames: h.registry.Frames(tabID)}
	if top := h.registry.Top(tabID); top != nil {
		meta.SourceURL = top.Frame().URL
		meta.Viewport = top.Viewport()
	}
	if _, err := h.exporter.ExportSession(tabID, meta, clear); err != nil && !errors.Is(err, export.ErrNoImages) {
		h.logger.Warnw("export failed", "tab", tabID, "reason", reason, "error", err)
	}
}

// CloseTab tears down everything for a tab: agents, then aggregation state.
func (h *Hub) CloseTab(tabID string) {
	h.registry.CloseTab(tabID)
	h.agg.CloseTab(tabID)
}

// teardown runs when a frame connection closes. A top-frame disconnect is
// the unload path, so a last best-effort export fires without clearing.
func (h *Hub) teardown(fc *frameConn) {
	if fc.agent == nil {
		return
	}
	frame := fc.agent.Frame()
	h.registry.Remove(fc.tabID, frame.FrameID)
	if frame.IsTop {
		h.ExportTab(fc.tabID, "top-frame-disconnect", false)
	}
}

// reply writes a response envelope. Non-delivery is a normal outcome, not
// an error path.
func (h *Hub) reply(fc *frameConn, r models.Reply) {
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	if err := fc.conn.WriteJSON(r); err != nil {
		h.logger.Debugw("reply dropped", "tab", fc.tabID, "type", r.Type, "error", err)
	}
}

// privilegedType lists the message types that mutate tab-level state or
// feed the privileged interception channel.
func privilegedType(t string) bool {
	switch t {
	case models.TypeActivatedState, models.TypeNetworkImage, models.TypeTabClosed,
		models.TypeRecordingStarted, models.TypeRecordingStopped,
		models.TypeClearCursorData, models.TypeClearImages, models.TypeExportSession:
		return true
	}
	return false
}

func decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
