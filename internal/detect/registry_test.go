package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/captrace/captrace/pkg/models"
)

func newRegistryAgent(t *testing.T, tabID string, frame models.FrameInfo) *Agent {
	t.Helper()
	agent := NewAgent(tabID, frame, staticRules{}, &fakeSink{},
		func(string, string, bool) {}, zap.NewNop().Sugar())
	t.Cleanup(agent.Close)
	return agent
}

func TestLateFrameInheritsArmedState(t *testing.T) {
	reg := NewRegistry(zap.NewNop().Sugar())

	top := newRegistryAgent(t, "tab-1", models.FrameInfo{FrameID: "f-top", IsTop: true})
	reg.Add(top)
	reg.SetArmed("tab-1", true)

	// A CAPTCHA iframe that connects after activation must still record.
	child := newRegistryAgent(t, "tab-1", models.FrameInfo{FrameID: "f-child", Depth: 1})
	reg.Add(child)
	child.HandleSnapshot(captchaSnapshot())
	assert.True(t, child.Recording())

	// Disarming applies to frames that connect afterwards too.
	reg.SetArmed("tab-1", false)
	late := newRegistryAgent(t, "tab-1", models.FrameInfo{FrameID: "f-late", Depth: 1})
	reg.Add(late)
	late.HandleSnapshot(captchaSnapshot())
	assert.False(t, late.Recording())
}

func TestCloseTabForgetsArmedState(t *testing.T) {
	reg := NewRegistry(zap.NewNop().Sugar())
	reg.Add(newRegistryAgent(t, "tab-1", models.FrameInfo{FrameID: "f-top", IsTop: true}))
	reg.SetArmed("tab-1", true)
	reg.CloseTab("tab-1")

	next := newRegistryAgent(t, "tab-1", models.FrameInfo{FrameID: "f-next", IsTop: true})
	reg.Add(next)
	next.HandleSnapshot(captchaSnapshot())
	assert.False(t, next.Recording())
}
