package models

import "time"

// FrameSummary is the per-frame roll-up included in an exported session.
type FrameSummary struct {
	FrameID          string `json:"frameId"`
	URL              string `json:"url"`
	Depth            int    `json:"depth"`
	CursorPointCount int    `json:"cursorPointCount"`
}

// ImageManifestEntry maps one bundle file back to its capture metadata.
type ImageManifestEntry struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
	Size      int       `json:"size"`
}

// Session is the exportable unit: one complete CAPTCHA encounter.
// It is assembled at export time and never mutated afterwards.
type Session struct {
	RecordedAt      time.Time            `json:"recordedAt"`
	SourceURL       string               `json:"sourceUrl"`
	Hostname        string               `json:"hostname"`
	DurationMS      int64                `json:"duration"`
	Rounds          int                  `json:"rounds"`
	Viewport        Viewport             `json:"viewport"`
	Frames          []FrameSummary       `json:"frames"`
	CaptchaElements []CaptchaElement     `json:"captchaElements"`
	CursorPoints    []CursorPoint        `json:"cursorPoints"`
	ImageCount      int                  `json:"imageCount"`
	Images          []ImageManifestEntry `json:"images"`
}
