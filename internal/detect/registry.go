package detect

import (
	"sync"

	"go.uber.org/zap"

	"github.com/captrace/captrace/pkg/models"
)

// Registry tracks the live Agents per tab. Frame IDs are opaque tokens
// generated at registration and never reused.
type Registry struct {
	mu     sync.Mutex
	tabs   map[string]map[string]*Agent // tabID -> frameID -> agent
	armed  map[string]bool              // tabID -> armed flag, applied to late frames
	logger *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		tabs:   make(map[string]map[string]*Agent),
		armed:  make(map[string]bool),
		logger: logger,
	}
}

// Add registers an agent under its tab and frame ID. CAPTCHA iframes load
// after the top frame has activated, so a newcomer inherits the tab's
// current armed state rather than waiting for the next activation signal.
func (r *Registry) Add(agent *Agent) {
	r.mu.Lock()
	frames, ok := r.tabs[agent.tabID]
	if !ok {
		frames = make(map[string]*Agent)
		r.tabs[agent.tabID] = frames
	}
	frames[agent.frame.FrameID] = agent
	armed := r.armed[agent.tabID]
	r.mu.Unlock()

	r.logger.Debugw("frame registered", "tab", agent.tabID,
		"frame", agent.frame.FrameID, "depth", agent.frame.Depth, "top", agent.frame.IsTop)
	if armed {
		agent.SetArmed(true)
	}
}

// Remove closes and drops one frame's agent.
func (r *Registry) Remove(tabID, frameID string) {
	r.mu.Lock()
	var agent *Agent
	if frames, ok := r.tabs[tabID]; ok {
		agent = frames[frameID]
		delete(frames, frameID)
		if len(frames) == 0 {
			delete(r.tabs, tabID)
			delete(r.armed, tabID)
		}
	}
	r.mu.Unlock()

	if agent != nil {
		agent.Close()
	}
}

// Get returns the agent for one frame, or nil.
func (r *Registry) Get(tabID, frameID string) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tabs[tabID][frameID]
}

// Top returns the tab's top-frame agent, or nil.
func (r *Registry) Top(tabID string) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, agent := range r.tabs[tabID] {
		if agent.frame.IsTop {
			return agent
		}
	}
	return nil
}

// Frames lists the connected frames for a tab.
func (r *Registry) Frames(tabID string) []models.FrameInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := make([]models.FrameInfo, 0, len(r.tabs[tabID]))
	for _, agent := range r.tabs[tabID] {
		frames = append(frames, agent.frame)
	}
	return frames
}

// SetArmed fans the tab's armed flag out to every frame agent and records
// it for frames that have not connected yet.
func (r *Registry) SetArmed(tabID string, armed bool) {
	r.mu.Lock()
	if armed {
		r.armed[tabID] = true
	} else {
		delete(r.armed, tabID)
	}
	agents := make([]*Agent, 0, len(r.tabs[tabID]))
	for _, agent := range r.tabs[tabID] {
		agents = append(agents, agent)
	}
	r.mu.Unlock()

	for _, agent := range agents {
		agent.SetArmed(armed)
	}
}

// CloseTab closes every agent for the tab and forgets them.
func (r *Registry) CloseTab(tabID string) {
	r.mu.Lock()
	frames := r.tabs[tabID]
	delete(r.tabs, tabID)
	delete(r.armed, tabID)
	r.mu.Unlock()

	for _, agent := range frames {
		agent.Close()
	}
}
