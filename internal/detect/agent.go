package detect

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/capture"
	"github.com/captrace/captrace/pkg/models"
)

const (
	// SnapshotCooldown coalesces mutation-driven re-scans so dynamic pages
	// cannot force a re-scan storm.
	SnapshotCooldown = 300 * time.Millisecond
	// IntervalExport is the periodic export cadence while recording.
	// Interval exports do not clear state; accumulation continues.
	IntervalExport = 60 * time.Second
	// InactivityTimeout ends a session when the cursor has left the
	// CAPTCHA region for this long.
	InactivityTimeout = 10 * time.Second
)

// Sink receives a frame's reports. Satisfied by *aggregate.Manager.
type Sink interface {
	ReportCursorPoints(tabID string, points []models.CursorPoint)
	ReportElements(tabID string, elements []models.CaptchaElement)
	ReportImages(tabID string, images []models.CapturedImage) int
	SetRecording(tabID string, recording bool)
}

// ExportFunc triggers a session export for a tab. Implementations are
// best-effort; the agent never inspects the outcome.
type ExportFunc func(tabID, reason string, clear bool)

// Agent is the server-side Frame Agent for one connected frame. It owns
// detection, the recording state machine, and cursor sampling for that
// frame. All interaction with shared state goes through the Sink.
type Agent struct {
	tabID  string
	frame  models.FrameInfo
	rules  capture.RuleSource
	sink   Sink
	export ExportFunc
	logger *zap.SugaredLogger
	now    func() time.Time

	mu              sync.Mutex
	armed           bool
	recording       bool
	recordingStart  time.Time
	lastSnapshot    time.Time
	lastOverCaptcha time.Time
	lastInterval    time.Time
	elements        []models.CaptchaElement
	viewport        models.Viewport
	gestureSeen     bool
	watchdogStop    chan struct{}
	closed          bool

	extractDebounce *capture.Debouncer
}

func NewAgent(tabID string, frame models.FrameInfo, rules capture.RuleSource,
	sink Sink, export ExportFunc, logger *zap.SugaredLogger) *Agent {
	return &Agent{
		tabID:           tabID,
		frame:           frame,
		rules:           rules,
		sink:            sink,
		export:          export,
		logger:          logger,
		now:             time.Now,
		extractDebounce: capture.NewDebouncer(capture.ExtractDebounce),
	}
}

// Frame returns the frame's identity. Immutable after construction.
func (a *Agent) Frame() models.FrameInfo { return a.frame }

// Viewport returns the last viewport seen in a snapshot (top frame only).
func (a *Agent) Viewport() models.Viewport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewport
}

// Recording reports whether this frame is currently recording.
func (a *Agent) Recording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

// SetArmed gates recording on the tab-level activation and consent flags.
// Arming while a CAPTCHA is already on screen starts recording immediately.
func (a *Agent) SetArmed(armed bool) {
	a.mu.Lock()
	a.armed = armed
	if armed && !a.recording && len(a.elements) > 0 {
		a.startRecordingLocked()
	}
	a.mu.Unlock()
}

// HandleSnapshot re-runs detection over a fresh frame snapshot and applies
// the recording transitions: absent→present while armed starts recording;
// present→absent on the top frame while recording exports and resets.
func (a *Agent) HandleSnapshot(snap models.DOMSnapshot) {
	a.mu.Lock()
	now := a.now()
	if now.Sub(a.lastSnapshot) < SnapshotCooldown {
		a.mu.Unlock()
		return
	}
	a.lastSnapshot = now

	detected := Detect(snap, a.rules.Current(), a.frame)
	had := len(a.elements) > 0
	a.elements = detected
	if a.frame.IsTop && (snap.Viewport.Width > 0 || snap.Viewport.Height > 0) {
		a.viewport = snap.Viewport
	}

	doExport := false
	switch {
	case !had && len(detected) > 0 && a.armed && !a.recording:
		a.startRecordingLocked()
	case had && len(detected) == 0 && a.recording && a.frame.IsTop:
		a.stopRecordingLocked()
		doExport = true
	}
	a.mu.Unlock()

	if len(detected) > 0 {
		a.sink.ReportElements(a.tabID, detected)
	}
	if doExport {
		a.export(a.tabID, "captcha-disappeared", true)
	}
}

// HandlePointerMove samples one cursor point while recording. Loss is
// tolerated downstream; the agent never retries.
func (a *Agent) HandlePointerMove(x, y float64) {
	a.mu.Lock()
	if !a.recording {
		a.mu.Unlock()
		return
	}
	now := a.now()
	over := OverAny(a.elements, x, y)
	if over {
		a.lastOverCaptcha = now
	}
	point := models.CursorPoint{
		X:           x,
		Y:           y,
		T:           now.Sub(a.recordingStart).Milliseconds(),
		OverCaptcha: over,
		FrameID:     a.frame.FrameID,
		FrameURL:    a.frame.URL,
		FrameDepth:  a.frame.Depth,
	}
	a.mu.Unlock()

	a.sink.ReportCursorPoints(a.tabID, []models.CursorPoint{point})
}

// HandleGesture records that a genuine user gesture happened in this frame.
// Canvas readback results are only admitted after one has been seen.
func (a *Agent) HandleGesture() {
	a.mu.Lock()
	a.gestureSeen = true
	a.mu.Unlock()
}

// HandleClientElements merges a client-computed detection report and runs
// inline extraction over the shipped container HTML, debounced per frame.
func (a *Agent) HandleClientElements(payload models.ElementsPayload) {
	for i := range payload.Elements {
		if payload.Elements[i].FrameID == "" {
			payload.Elements[i].FrameID = a.frame.FrameID
			payload.Elements[i].FrameURL = a.frame.URL
			payload.Elements[i].FrameDepth = a.frame.Depth
		}
	}
	a.sink.ReportElements(a.tabID, payload.Elements)

	if len(payload.ContainerHTML) == 0 || !a.extractDebounce.Allow(a.frame.FrameID) {
		return
	}
	var batch []models.CapturedImage
	for i, el := range payload.Elements {
		if i >= len(payload.ContainerHTML) || payload.ContainerHTML[i] == "" {
			continue
		}
		batch = append(batch, capture.ExtractInline(el, payload.ContainerHTML[i])...)
	}
	if len(batch) > 0 {
		a.sink.ReportImages(a.tabID, batch)
	}
}

// HandleInlineImages admits client-side extraction results. Canvas entries
// are dropped until a user gesture has been observed in this frame, since
// readback before a gesture is not trustworthy in every host.
func (a *Agent) HandleInlineImages(payload models.InlineImagesPayload) {
	a.mu.Lock()
	gestureSeen := a.gestureSeen
	a.mu.Unlock()

	var batch []models.CapturedImage
	for _, img := range payload.Images {
		if img.ExtractionType == models.ExtractCanvas && !gestureSeen {
			continue
		}
		admitted, ok := capture.AdmitClientImage(img)
		if !ok {
			continue
		}
		batch = append(batch, admitted)
	}
	if len(batch) > 0 {
		a.sink.ReportImages(a.tabID, batch)
	}
}

// Close stops the agent's background work. Called when the frame's
// connection goes away.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.stopWatchdogLocked()
}

func (a *Agent) startRecordingLocked() {
	now := a.now()
	a.recording = true
	a.recordingStart = now
	a.lastOverCaptcha = now
	a.lastInterval = now
	a.sink.SetRecording(a.tabID, true)
	a.logger.Infow("recording started", "tab", a.tabID, "frame", a.frame.FrameID, "top", a.frame.IsTop)
	if a.frame.IsTop {
		a.watchdogStop = make(chan struct{})
		go a.watchdog(a.watchdogStop)
	}
}

func (a *Agent) stopRecordingLocked() {
	a.recording = false
	a.sink.SetRecording(a.tabID, false)
	a.stopWatchdogLocked()
	a.logger.Infow("recording stopped", "tab", a.tabID, "frame", a.frame.FrameID)
}

func (a *Agent) stopWatchdogLocked() {
	if a.watchdogStop != nil {
		close(a.watchdogStop)
		a.watchdogStop = nil
	}
}

// watchdog drives the two timer-based export triggers for the top frame:
// the 60s interval export (no clear) and the cursor-inactivity session
// boundary (clear after export).
func (a *Agent) watchdog(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			if !a.recording {
				a.mu.Unlock()
				continue
			}
			now := a.now()
			interval := now.Sub(a.lastInterval) >= IntervalExport
			if interval {
				a.lastInterval = now
			}
			inactive := now.Sub(a.lastOverCaptcha) >= InactivityTimeout
			if inactive {
				a.stopRecordingLocked()
			}
			a.mu.Unlock()

			if interval {
				a.export(a.tabID, "interval", false)
			}
			if inactive {
				a.export(a.tabID, "cursor-inactivity", true)
				return
			}
		}
	}
}
