package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/captrace/captrace/internal/capture"
	"github.com/captrace/captrace/pkg/models"
)

// BundleWriter persists session bundles under a base directory. Each export
// is a fresh, self-contained directory: session.json plus img-NNN.<ext>.
type BundleWriter struct {
	baseDir string
	now     func() time.Time
}

func NewBundleWriter(baseDir string) (*BundleWriter, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &BundleWriter{baseDir: baseDir, now: time.Now}, nil
}

// Write creates the bundle directory and writes the metadata document and
// one file per image. Returns the bundle directory path.
func (w *BundleWriter) Write(session models.Session, images []models.CapturedImage) (string, error) {
	dir, err := w.makeBundleDir()
	if err != nil {
		return "", err
	}

	doc, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "session.json"), doc, 0644); err != nil {
		return "", fmt.Errorf("failed to write session.json: %w", err)
	}

	for i, img := range images {
		// Callers filter undecodable payloads before assembly; a failure
		// here would desync the manifest, so it fails the bundle.
		raw, err := decodeDataURL(img.DataURL)
		if err != nil {
			return "", fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		name := imageFilename(i, img.MIMEType)
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	return dir, nil
}

// makeBundleDir names bundles by second-granularity timestamp; a same-second
// collision gets an ordinal suffix.
func (w *BundleWriter) makeBundleDir() (string, error) {
	base := "session-" + w.now().Format("20060102-150405")
	dir := filepath.Join(w.baseDir, base)
	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create bundle directory: %w", err)
		}
		dir = filepath.Join(w.baseDir, fmt.Sprintf("%s-%d", base, n))
	}
}

func imageFilename(ordinal int, mime string) string {
	return fmt.Sprintf("img-%03d%s", ordinal, capture.ExtensionForMIME(mime))
}

func decodeDataURL(dataURL string) ([]byte, error) {
	comma := strings.Index(dataURL, ",")
	if comma < 0 {
		return nil, fmt.Errorf("not a data URL")
	}
	return base64.StdEncoding.DecodeString(dataURL[comma+1:])
}
