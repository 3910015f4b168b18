package models

import "encoding/json"

// Message types carried over the frame channel. Raw input types are produced
// by the in-page scripts; control types form the request/response surface.
const (
	// Raw inputs
	TypeDOMSnapshot  = "dom-snapshot"
	TypePointerMove  = "pointer-move"
	TypeUserGesture  = "user-gesture"
	TypeNetworkImage = "network-image" // privileged sender only
	TypeTabClosed    = "tab-closed"    // privileged sender only

	// Control surface
	TypeActivatedState      = "activated-state"
	TypeCursorPoint         = "cursor-point"
	TypeCaptchaElements     = "captcha-elements"
	TypeCaptchaInlineImages = "captcha-inline-images"
	TypeClearCursorData     = "clear-cursor-data"
	TypeGetAggregatedData   = "get-aggregated-data"
	TypeRecordingStarted    = "recording-started"
	TypeRecordingStopped    = "recording-stopped"
	TypeGetCapturedImages   = "get-captured-images"
	TypeClearImages         = "clear-images"
	TypeGetActivatedState   = "get-activated-state"
	TypeExportSession       = "export-session"
)

// Envelope wraps every message on the frame channel. Frame identifies the
// sending context; payload decoding depends on Type.
type Envelope struct {
	Type    string          `json:"type"`
	TabID   string          `json:"tabId"`
	Frame   FrameInfo       `json:"frame"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActivatedStatePayload toggles tab activation. Only honored from the top
// frame; Consent mirrors the user-facing consent flag and gates arming.
type ActivatedStatePayload struct {
	Activated bool `json:"activated"`
	Consent   bool `json:"consent"`
}

// PointerMovePayload is one raw pointer sample in frame coordinates.
type PointerMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementsPayload carries a frame's current detection results together with
// each container's outer HTML for server-side inline image extraction.
type ElementsPayload struct {
	Elements      []CaptchaElement `json:"elements"`
	ContainerHTML []string         `json:"containerHtml,omitempty"`
}

// InlineImagesPayload carries client-side extraction results that cannot be
// reproduced server-side (canvas readback needs pixel access).
type InlineImagesPayload struct {
	Images []CapturedImage `json:"images"`
}

// NetworkImagePayload is an intercepted response body from the privileged
// context. Body is base64 of the raw bytes; DeclaredMIME is untrusted.
type NetworkImagePayload struct {
	URL          string `json:"url"`
	DeclaredMIME string `json:"declaredMime"`
	Body         string `json:"body"`
}

// Reply is the response shape for get-* control messages.
type Reply struct {
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// AggregatedData is the read-path view served at export time and for
// get-aggregated-data replies. CursorPoints are sorted by T.
type AggregatedData struct {
	CursorPoints    []CursorPoint    `json:"cursorPoints"`
	CaptchaElements []CaptchaElement `json:"captchaElements"`
	Rounds          int              `json:"rounds"`
}
