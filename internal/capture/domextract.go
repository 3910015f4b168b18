package capture

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/captrace/captrace/pkg/models"
)

const (
	// ExtractMinDimension excludes decorative icons by rendered size.
	ExtractMinDimension = 50
	// ExtractMinPayload excludes near-empty data URLs.
	ExtractMinPayload = 500
	// ExtractDebounce bounds how often one frame's containers are re-scanned.
	ExtractDebounce = 2 * time.Second
)

// ExtractInline scans a detected container's outer HTML for challenge
// imagery that is embedded directly in the document: <img> elements with
// data-URL sources and inline-style background-images that are data URLs.
// Canvas readback cannot happen here (it needs pixel access) and arrives
// separately via AdmitClientImage.
func ExtractInline(el models.CaptchaElement, containerHTML string) []models.CapturedImage {
	root, err := html.Parse(strings.NewReader(containerHTML))
	if err != nil {
		return nil
	}

	var found []models.CapturedImage
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			attrs := make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				attrs[a.Key] = a.Val
			}

			if n.Data == "img" {
				if src := attrs["src"]; strings.HasPrefix(src, "data:image/") {
					if admitInlinePayload(src, attrs) {
						found = append(found, inlineImage(el, models.ExtractInlineImage, src))
					}
				}
			}
			if bg := backgroundDataURL(attrs["style"]); bg != "" {
				if len(bg) >= ExtractMinPayload {
					found = append(found, inlineImage(el, models.ExtractBackgroundImage, bg))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

// admitInlinePayload applies the payload-length floor and, when width and
// height attributes are present, the minimum-dimension filter. Elements
// without size attributes pass: rendered size is unknown server-side.
func admitInlinePayload(src string, attrs map[string]string) bool {
	if len(src) < ExtractMinPayload {
		return false
	}
	w, werr := strconv.Atoi(attrs["width"])
	h, herr := strconv.Atoi(attrs["height"])
	if werr == nil && w < ExtractMinDimension {
		return false
	}
	if herr == nil && h < ExtractMinDimension {
		return false
	}
	return true
}

// backgroundDataURL pulls a data URL out of an inline background-image
// declaration, tolerating optional quoting.
func backgroundDataURL(style string) string {
	idx := strings.Index(style, "url(")
	if idx < 0 {
		return ""
	}
	rest := style[idx+len("url("):]
	end := strings.Index(rest, ")")
	if end < 0 {
		return ""
	}
	v := strings.Trim(rest[:end], `"' `)
	if !strings.HasPrefix(v, "data:image/") {
		return ""
	}
	return v
}

// AdmitClientImage validates a client-side extraction result (canvas
// readback, or inline finds the page script made itself). Returns false
// for payloads that fail the inline admission filters.
func AdmitClientImage(img models.CapturedImage) (models.CapturedImage, bool) {
	if !strings.HasPrefix(img.DataURL, "data:image/") {
		return models.CapturedImage{}, false
	}
	if len(img.DataURL) < ExtractMinPayload {
		return models.CapturedImage{}, false
	}
	if img.Timestamp.IsZero() {
		img.Timestamp = time.Now()
	}
	if img.Source == "" {
		img.Source = models.SourceDOMExtraction
	}
	if img.MIMEType == "" {
		img.MIMEType = mimeFromDataURL(img.DataURL)
	}
	if img.Size == 0 {
		img.Size = len(img.DataURL)
	}
	return img, true
}

func inlineImage(el models.CaptchaElement, kind models.ExtractionType, dataURL string) models.CapturedImage {
	return models.CapturedImage{
		Timestamp:      time.Now(),
		URL:            "inline:" + string(kind) + ":" + el.Selector,
		Size:           len(dataURL),
		MIMEType:       mimeFromDataURL(dataURL),
		DataURL:        dataURL,
		Source:         models.SourceDOMExtraction,
		ExtractionType: kind,
	}
}

func mimeFromDataURL(dataURL string) string {
	rest := strings.TrimPrefix(dataURL, "data:")
	if semi := strings.IndexAny(rest, ";,"); semi >= 0 {
		return rest[:semi]
	}
	return ""
}

// Debouncer rate-limits per-key work, used to hold container re-scans to
// once per ExtractDebounce while the cursor hovers a CAPTCHA region.
type Debouncer struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether work for the key may run now, recording the
// attempt when it may.
func (d *Debouncer) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if prev, ok := d.last[key]; ok && now.Sub(prev) < d.interval {
		return false
	}
	d.last[key] = now
	return true
}

// Forget drops a key, used when a frame goes away.
func (d *Debouncer) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, key)
}
