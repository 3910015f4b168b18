package models

// FrameInfo identifies one document context within a tab.
// The frame ID is generated once per frame lifetime and never reused.
type FrameInfo struct {
	FrameID string `json:"frameId"`
	URL     string `json:"url"`
	Depth   int    `json:"depth"` // 0 = top document
	IsTop   bool   `json:"isTop"`
}

// Rect is a viewport-relative bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the viewport point (x, y) falls inside the rect.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Viewport holds the top document's visible dimensions.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DOMNode is one entry in a frame's layout-annotated snapshot table.
// Parent is an index into the same table, -1 for the root.
type DOMNode struct {
	Index   int               `json:"index"`
	Parent  int               `json:"parent"`
	Tag     string            `json:"tag"`
	ID      string            `json:"id,omitempty"`
	Classes []string          `json:"classes,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Rect    Rect              `json:"rect"`
	Text    string            `json:"text,omitempty"`
	Visible bool              `json:"visible"`
}

// DOMSnapshot is the full node table for one frame at one instant,
// shipped by the in-page script on load and on relevant DOM mutations.
type DOMSnapshot struct {
	Nodes    []DOMNode `json:"nodes"`
	Viewport Viewport  `json:"viewport"`
}
