// Package aggregate owns all per-tab state. The Manager is the single
// writer: every frame reports through it, and nothing else mutates a tab's
// aggregation state. Reports for non-activated tabs are inert.
package aggregate

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/captrace/captrace/pkg/models"
)

const (
	// FingerprintLen is the data-URL prefix length used as the cross-channel
	// image dedup key. Cheap similarity proxy, not a hash.
	FingerprintLen = 200
	// RoundBurstThreshold: a batch admitting at least this many new images
	// while recording counts as one new challenge round.
	RoundBurstThreshold = 3
)

var (
	ErrTabNotFound = errors.New("tab not found")
	ErrSlotsFull   = errors.New("activated tab limit reached")
)

// tabState is one tab's aggregation state. Guarded by the Manager's mutex.
type tabState struct {
	activated bool
	recording bool

	cursorPoints []models.CursorPoint
	elements     []models.CaptchaElement
	elementSeen  map[string]bool
	images       []models.CapturedImage
	fingerprints map[string]bool
	rounds       int
}

func newTabState() *tabState {
	return &tabState{
		elementSeen:  make(map[string]bool),
		fingerprints: make(map[string]bool),
	}
}

// Manager holds the per-tab aggregation map. Message handling is atomic per
// call: each operation takes the lock, applies one full update, releases.
type Manager struct {
	mu   sync.Mutex
	tabs map[string]*tabState

	maxCursorPoints int
	maxImages       int
	slots           *semaphore.Weighted
	logger          *zap.SugaredLogger
}

func NewManager(maxCursorPoints, maxImages, activatedSlots int, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		tabs:            make(map[string]*tabState),
		maxCursorPoints: maxCursorPoints,
		maxImages:       maxImages,
		slots:           semaphore.NewWeighted(int64(activatedSlots)),
		logger:          logger,
	}
}

// SetActivated creates or releases a tab's aggregation state. Activation is
// driven exclusively by the top frame; callers enforce that before this.
func (m *Manager) SetActivated(tabID string, activated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, exists := m.tabs[tabID]
	if activated {
		if exists && st.activated {
			return nil
		}
		if !m.slots.TryAcquire(1) {
			return ErrSlotsFull
		}
		if !exists {
			st = newTabState()
			m.tabs[tabID] = st
		}
		st.activated = true
		m.logger.Infow("tab activated", "tab", tabID)
		return nil
	}

	if exists && st.activated {
		st.activated = false
		m.slots.Release(1)
		m.logger.Infow("tab deactivated", "tab", tabID)
	}
	return nil
}

// IsActivated reports the tab's activation flag.
func (m *Manager) IsActivated(tabID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tabs[tabID]
	return ok && st.activated
}

// SetRecording tracks whether a CAPTCHA session is live on the tab; the
// round heuristic only counts bursts that arrive while recording.
func (m *Manager) SetRecording(tabID string, recording bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tabs[tabID]; ok && st.activated {
		st.recording = recording
	}
}

// ReportCursorPoints appends points, evicting oldest beyond the cap.
func (m *Manager) ReportCursorPoints(tabID string, points []models.CursorPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.active(tabID)
	if st == nil {
		return
	}
	st.cursorPoints = append(st.cursorPoints, points...)
	if excess := len(st.cursorPoints) - m.maxCursorPoints; excess > 0 {
		st.cursorPoints = st.cursorPoints[excess:]
	}
}

// ReportElements merges detection results by (frameId, selector) key.
// Append-only: entries persist until the tab's state is cleared, even if
// the underlying element later leaves the DOM.
func (m *Manager) ReportElements(tabID string, elements []models.CaptchaElement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.active(tabID)
	if st == nil {
		return
	}
	for _, el := range elements {
		key := el.Key()
		if st.elementSeen[key] {
			continue
		}
		st.elementSeen[key] = true
		st.elements = append(st.elements, el)
	}
}

// ReportImages dedup-inserts a batch and returns how many were admitted.
// A batch of RoundBurstThreshold or more new images while recording counts
// as exactly one new round.
func (m *Manager) ReportImages(tabID string, images []models.CapturedImage) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.active(tabID)
	if st == nil {
		return 0
	}

	added := 0
	for _, img := range images {
		fp := fingerprint(img.DataURL)
		if st.fingerprints[fp] {
			m.logger.Debugw("duplicate image dropped", "tab", tabID, "url", img.URL)
			continue
		}
		st.fingerprints[fp] = true
		st.images = append(st.images, img)
		added++
	}
	if excess := len(st.images) - m.maxImages; excess > 0 {
		for _, old := range st.images[:excess] {
			delete(st.fingerprints, fingerprint(old.DataURL))
		}
		st.images = st.images[excess:]
	}

	if st.recording && added >= RoundBurstThreshold {
		st.rounds++
		m.logger.Infow("new challenge round inferred", "tab", tabID, "burst", added, "rounds", st.rounds)
	}
	return added
}

// AggregatedData returns the read-path view: cursor points sorted by their
// frame-relative t, the element log, and the round count.
func (m *Manager) AggregatedData(tabID string) (models.AggregatedData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tabs[tabID]
	if !ok {
		return models.AggregatedData{}, ErrTabNotFound
	}

	points := make([]models.CursorPoint, len(st.cursorPoints))
	copy(points, st.cursorPoints)
	// t is frame-local recording-relative time; the merged order across
	// frames is approximate when frames started recording at different
	// moments. Stable keeps per-frame insertion order for equal t.
	sort.SliceStable(points, func(i, j int) bool { return points[i].T < points[j].T })

	elements := make([]models.CaptchaElement, len(st.elements))
	copy(elements, st.elements)

	return models.AggregatedData{
		CursorPoints:    points,
		CaptchaElements: elements,
		Rounds:          st.rounds,
	}, nil
}

// Images returns a copy of the tab's captured image list.
func (m *Manager) Images(tabID string) []models.CapturedImage {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tabs[tabID]
	if !ok {
		return nil
	}
	images := make([]models.CapturedImage, len(st.images))
	copy(images, st.images)
	return images
}

// ClearTab resets the tab's lists after a successful session export. The
// tab stays activated; the next detection starts a fresh session.
func (m *Manager) ClearTab(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tabs[tabID]
	if !ok {
		return
	}
	st.cursorPoints = nil
	st.elements = nil
	st.elementSeen = make(map[string]bool)
	st.images = nil
	st.fingerprints = make(map[string]bool)
	st.rounds = 0
}

// ClearCursor drops only the cursor samples (clear-cursor-data message).
func (m *Manager) ClearCursor(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tabs[tabID]; ok {
		st.cursorPoints = nil
	}
}

// ClearImages drops only the captured images (clear-images message).
func (m *Manager) ClearImages(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tabs[tabID]; ok {
		st.images = nil
		st.fingerprints = make(map[string]bool)
	}
}

// CloseTab tears down all state for the tab unconditionally.
func (m *Manager) CloseTab(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tabs[tabID]
	if !ok {
		return
	}
	if st.activated {
		m.slots.Release(1)
	}
	delete(m.tabs, tabID)
	m.logger.Infow("tab state destroyed", "tab", tabID)
}

// Stats returns tab counts for the status endpoint.
func (m *Manager) Stats() (tabs, activated int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.tabs {
		tabs++
		if st.activated {
			activated++
		}
	}
	return tabs, activated
}

// active returns the tab's state only when it exists and is activated.
// Must be called with the lock held.
func (m *Manager) active(tabID string) *tabState {
	st, ok := m.tabs[tabID]
	if !ok || !st.activated {
		return nil
	}
	return st
}

func fingerprint(dataURL string) string {
	if len(dataURL) > FingerprintLen {
		return dataURL[:FingerprintLen]
	}
	return dataURL
}
