// Package export turns a tab's aggregated state into a session bundle on
// disk: one directory per session holding session.json and the captured
// image files.
package export

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/aggregate"
	"github.com/captrace/captrace/pkg/models"
)

// ErrNoImages gates the export path: incidental detections with no captured
// imagery never produce a bundle.
var ErrNoImages = errors.New("no captured images for tab")

// Meta is the top-frame context an export needs beyond aggregated state.
type Meta struct {
	SourceURL string
	Viewport  models.Viewport
	Frames    []models.FrameInfo
}

// Exporter assembles and writes session bundles.
type Exporter struct {
	agg    *aggregate.Manager
	writer *BundleWriter
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewExporter(agg *aggregate.Manager, writer *BundleWriter, logger *zap.SugaredLogger) *Exporter {
	return &Exporter{agg: agg, writer: writer, logger: logger, now: time.Now}
}

// ExportSession writes one bundle for the tab. When clear is true the tab's
// state is reset afterwards (session boundary); interval exports pass false
// and keep accumulating. Declines without side effects when no images have
// been captured.
func (e *Exporter) ExportSession(tabID string, meta Meta, clear bool) (string, error) {
	// Drop payloads that cannot be decoded back to bytes, so the manifest
	// only ever references files the writer will produce.
	images := e.agg.Images(tabID)
	n := 0
	for _, img := range images {
		if _, err := decodeDataURL(img.DataURL); err != nil {
			e.logger.Warnw("undecodable image dropped from export", "tab", tabID, "url", img.URL)
			continue
		}
		images[n] = img
		n++
	}
	images = images[:n]
	if len(images) == 0 {
		e.logger.Infow("export declined, no captured images", "tab", tabID)
		return "", ErrNoImages
	}

	data, err := e.agg.AggregatedData(tabID)
	if err != nil {
		return "", err
	}

	session := e.assemble(meta, data, images)
	dir, err := e.writer.Write(session, images)
	if err != nil {
		return "", fmt.Errorf("failed to write session bundle: %w", err)
	}

	if clear {
		e.agg.ClearTab(tabID)
	}
	e.logger.Infow("session exported", "tab", tabID, "dir", dir,
		"images", len(images), "cursorPoints", len(data.CursorPoints), "cleared", clear)
	return dir, nil
}

func (e *Exporter) assemble(meta Meta, data models.AggregatedData, images []models.CapturedImage) models.Session {
	var duration int64
	if n := len(data.CursorPoints); n > 0 {
		duration = data.CursorPoints[n-1].T
	}

	manifest := make([]models.ImageManifestEntry, len(images))
	for i, img := range images {
		manifest[i] = models.ImageManifestEntry{
			Filename:  imageFilename(i, img.MIMEType),
			Timestamp: img.Timestamp,
			URL:       img.URL,
			Size:      img.Size,
		}
	}

	return models.Session{
		RecordedAt:      e.now(),
		SourceURL:       meta.SourceURL,
		Hostname:        hostnameOf(meta.SourceURL),
		DurationMS:      duration,
		Rounds:          data.Rounds,
		Viewport:        meta.Viewport,
		Frames:          frameSummaries(meta.Frames, data.CursorPoints),
		CaptchaElements: data.CaptchaElements,
		CursorPoints:    data.CursorPoints,
		ImageCount:      len(images),
		Images:          manifest,
	}
}

// frameSummaries rolls cursor points up per frame. Frames that reported
// points but are no longer connected still get a summary from the point
// metadata itself.
func frameSummaries(frames []models.FrameInfo, points []models.CursorPoint) []models.FrameSummary {
	counts := make(map[string]int)
	for _, p := range points {
		counts[p.FrameID]++
	}

	summaries := make([]models.FrameSummary, 0, len(frames))
	seen := make(map[string]bool)
	for _, f := range frames {
		summaries = append(summaries, models.FrameSummary{
			FrameID:          f.FrameID,
			URL:              f.URL,
			Depth:            f.Depth,
			CursorPointCount: counts[f.FrameID],
		})
		seen[f.FrameID] = true
	}
	for _, p := range points {
		if seen[p.FrameID] {
			continue
		}
		seen[p.FrameID] = true
		summaries = append(summaries, models.FrameSummary{
			FrameID:          p.FrameID,
			URL:              p.FrameURL,
			Depth:            p.FrameDepth,
			CursorPointCount: counts[p.FrameID],
		})
	}
	return summaries
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
