// Package detect implements the Frame Agent: heuristic CAPTCHA detection
// over frame snapshots, cursor recording, and the per-frame recording state
// machine. One Agent exists per connected frame; the Registry tracks them
// per tab.
package detect

import (
	"strings"

	"github.com/captrace/captrace/internal/rules"
	"github.com/captrace/captrace/pkg/models"
)

const (
	// TextMaxLen bounds text nodes considered by the text-content pass.
	TextMaxLen = 100
	// AncestorWalkDepth bounds the container search above a text match.
	AncestorWalkDepth = 5
	// MinContainerDim rejects containers too small to be a widget.
	MinContainerDim = 100
	// MaxViewportFrac rejects containers that are basically the whole page.
	MaxViewportFrac = 0.9
)

// blockTags are the container tags the text-content pass scans.
var blockTags = map[string]bool{
	"div": true, "p": true, "section": true, "article": true, "aside": true,
	"li": true, "td": true, "th": true, "label": true, "legend": true,
	"figcaption": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true,
}

// Detect runs both detection passes over a frame snapshot and returns the
// surviving elements, deduplicated by node identity across passes.
func Detect(snap models.DOMSnapshot, set *rules.Set, frame models.FrameInfo) []models.CaptchaElement {
	var out []models.CaptchaElement
	taken := make(map[int]bool)

	// Pass 1: provider selector patterns over visible elements.
	for _, n := range snap.Nodes {
		if !n.Visible || n.Rect.Width <= 0 || n.Rect.Height <= 0 {
			continue
		}
		provider := set.MatchSelector(n)
		if provider == "" || taken[n.Index] {
			continue
		}
		taken[n.Index] = true
		out = append(out, makeElement(snap.Nodes, n, provider, models.DetectionSelector, frame, strings.TrimSpace(n.Text)))
	}

	// Pass 2: challenge-text regexes over short text in block-level tags,
	// walking up to the first plausibly widget-sized container.
	for _, n := range snap.Nodes {
		text := strings.TrimSpace(n.Text)
		if text == "" || len(text) > TextMaxLen || !blockTags[n.Tag] {
			continue
		}
		provider := set.MatchText(text)
		if provider == "" {
			continue
		}
		container, ok := findContainer(snap, n)
		if !ok || taken[container.Index] {
			continue
		}
		taken[container.Index] = true
		out = append(out, makeElement(snap.Nodes, container, provider, models.DetectionText, frame, text))
	}

	return out
}

// findContainer walks up from a text match looking for the first ancestor
// whose box is neither too small nor near full-viewport. That box is the
// heuristic widget boundary for providers that randomize class names.
func findContainer(snap models.DOMSnapshot, n models.DOMNode) (models.DOMNode, bool) {
	maxW := float64(snap.Viewport.Width) * MaxViewportFrac
	maxH := float64(snap.Viewport.Height) * MaxViewportFrac

	cur := n
	for depth := 0; depth <= AncestorWalkDepth; depth++ {
		r := cur.Rect
		if r.Width >= MinContainerDim && r.Height >= MinContainerDim &&
			(snap.Viewport.Width == 0 || (r.Width <= maxW && r.Height <= maxH)) {
			return cur, true
		}
		if cur.Parent < 0 || cur.Parent >= len(snap.Nodes) {
			break
		}
		cur = snap.Nodes[cur.Parent]
	}
	return models.DOMNode{}, false
}

func makeElement(nodes []models.DOMNode, n models.DOMNode, provider string,
	method models.DetectionMethod, frame models.FrameInfo, prompt string) models.CaptchaElement {
	return models.CaptchaElement{
		Selector:        BuildLocator(nodes, n.Index),
		Rect:            n.Rect,
		PromptText:      prompt,
		TagName:         n.Tag,
		Src:             n.Attrs["src"],
		Provider:        provider,
		FrameID:         frame.FrameID,
		FrameURL:        frame.URL,
		FrameDepth:      frame.Depth,
		DetectionMethod: method,
	}
}

// OverAny reports whether the viewport point falls inside any element rect.
func OverAny(elements []models.CaptchaElement, x, y float64) bool {
	for _, el := range elements {
		if el.Rect.Contains(x, y) {
			return true
		}
	}
	return false
}
