package detect

import (
	"fmt"
	"strings"

	"github.com/captrace/captrace/pkg/models"
)

// LocatorMaxDepth bounds how many ancestors a locator encodes.
const LocatorMaxDepth = 5

// BuildLocator computes a CSS-path-like locator for the node at idx.
// Prefers #id; otherwise walks ancestors building tag.class segments,
// adding :nth-child only when sibling tag names collide. Best-effort:
// the locator is a log/dedup key, not a stable identifier.
func BuildLocator(nodes []models.DOMNode, idx int) string {
	if idx < 0 || idx >= len(nodes) {
		return ""
	}
	if id := nodes[idx].ID; id != "" {
		return "#" + id
	}

	var segments []string
	cur := idx
	for depth := 0; depth < LocatorMaxDepth && cur >= 0 && cur < len(nodes); depth++ {
		n := nodes[cur]
		if n.ID != "" {
			segments = append([]string{"#" + n.ID}, segments...)
			break
		}
		segments = append([]string{segment(nodes, n)}, segments...)
		cur = n.Parent
	}
	return strings.Join(segments, " > ")
}

func segment(nodes []models.DOMNode, n models.DOMNode) string {
	seg := n.Tag
	for _, c := range n.Classes {
		seg += "." + c
	}
	if pos, collides := siblingPosition(nodes, n); collides {
		seg += fmt.Sprintf(":nth-child(%d)", pos)
	}
	return seg
}

// siblingPosition returns the node's 1-based position among all siblings
// (document order) and whether another sibling shares its tag name.
func siblingPosition(nodes []models.DOMNode, n models.DOMNode) (int, bool) {
	pos := 0
	sameTag := 0
	for _, s := range nodes {
		if s.Parent != n.Parent {
			continue
		}
		if s.Index <= n.Index {
			pos++
		}
		if s.Tag == n.Tag {
			sameTag++
		}
	}
	return pos, sameTag > 1
}
