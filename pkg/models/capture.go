package models

import "time"

// DetectionMethod records which detection pass produced an element.
type DetectionMethod string

const (
	DetectionSelector DetectionMethod = "selector"
	DetectionText     DetectionMethod = "text-content"
)

// CursorPoint is a single pointer-move sample taken while a frame is recording.
// T is milliseconds since that frame's recording start, not wall-clock time.
type CursorPoint struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	T           int64   `json:"t"`
	OverCaptcha bool    `json:"overCaptcha"`
	FrameID     string  `json:"frameId"`
	FrameURL    string  `json:"frameUrl"`
	FrameDepth  int     `json:"frameDepth"`
}

// CaptchaElement describes one detected CAPTCHA widget.
// Identity for aggregation is (FrameID, Selector); records are recomputed
// on every DOM mutation, so the selector is a dedup key, not a stable handle.
type CaptchaElement struct {
	Selector        string          `json:"selector"`
	Rect            Rect            `json:"rect"`
	PromptText      string          `json:"promptText,omitempty"`
	TagName         string          `json:"tagName"`
	Src             string          `json:"src,omitempty"`
	Provider        string          `json:"provider,omitempty"`
	FrameID         string          `json:"frameId"`
	FrameURL        string          `json:"frameUrl"`
	FrameDepth      int             `json:"frameDepth"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
}

// Key returns the aggregation identity for the element.
func (e CaptchaElement) Key() string {
	return e.FrameID + "|" + e.Selector
}

// ImageSource identifies which capture channel produced an image.
type ImageSource string

const (
	SourceNetwork       ImageSource = "network"
	SourceDOMExtraction ImageSource = "dom-extraction"
)

// ExtractionType refines SourceDOMExtraction.
type ExtractionType string

const (
	ExtractInlineImage     ExtractionType = "inline-image"
	ExtractCanvas          ExtractionType = "canvas"
	ExtractBackgroundImage ExtractionType = "background-image"
)

// CapturedImage is one admitted challenge image. URL is either the real
// network URL or a synthetic "inline:<type>:<selector>" tag for DOM finds.
type CapturedImage struct {
	Timestamp      time.Time      `json:"timestamp"`
	URL            string         `json:"url"`
	Size           int            `json:"size"`
	MIMEType       string         `json:"mimeType"`
	DataURL        string         `json:"dataUrl"`
	Source         ImageSource    `json:"source"`
	ExtractionType ExtractionType `json:"extractionType,omitempty"`
}
