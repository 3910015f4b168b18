package capture

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captrace/captrace/pkg/models"
)

var testElement = models.CaptchaElement{
	Selector: "div.challenge",
	FrameID:  "f1",
}

func dataURL(n int) string {
	return "data:image/png;base64," + strings.Repeat("A", n)
}

func TestExtractInlineImages(t *testing.T) {
	html := `<div class="challenge">
		<img src="` + dataURL(800) + `" width="120" height="120">
		<img src="` + dataURL(800) + `" width="16" height="16">
		<img src="` + dataURL(100) + `">
		<img src="https://cdn.example.com/img.png">
		<div style="background-image: url('` + dataURL(800) + `')"></div>
	</div>`

	found := ExtractInline(testElement, html)
	require.Len(t, found, 2)

	assert.Equal(t, models.ExtractInlineImage, found[0].ExtractionType)
	assert.Equal(t, "inline:inline-image:div.challenge", found[0].URL)
	assert.Equal(t, "image/png", found[0].MIMEType)
	assert.Equal(t, models.SourceDOMExtraction, found[0].Source)

	assert.Equal(t, models.ExtractBackgroundImage, found[1].ExtractionType)
	assert.Equal(t, "inline:background-image:div.challenge", found[1].URL)
}

func TestExtractInlineNoCandidates(t *testing.T) {
	assert.Empty(t, ExtractInline(testElement, `<div><p>click the images</p></div>`))
	assert.Empty(t, ExtractInline(testElement, `<div style="background-image: url(https://x.test/a.png)"></div>`))
}

func TestBackgroundDataURLParsing(t *testing.T) {
	assert.Equal(t, "data:image/gif;base64,AAA", backgroundDataURL(`background-image: url("data:image/gif;base64,AAA"); color: red`))
	assert.Equal(t, "", backgroundDataURL(`color: red`))
	assert.Equal(t, "", backgroundDataURL(`background-image: url(data:image/gif;base64,AAA`))
}

func TestAdmitClientImage(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		img, ok := AdmitClientImage(models.CapturedImage{
			DataURL:        dataURL(800),
			ExtractionType: models.ExtractCanvas,
		})
		require.True(t, ok)
		assert.Equal(t, models.SourceDOMExtraction, img.Source)
		assert.Equal(t, "image/png", img.MIMEType)
		assert.False(t, img.Timestamp.IsZero())
		assert.NotZero(t, img.Size)
	})

	t.Run("rejects short payload", func(t *testing.T) {
		_, ok := AdmitClientImage(models.CapturedImage{DataURL: dataURL(10)})
		assert.False(t, ok)
	})

	t.Run("rejects non-image data url", func(t *testing.T) {
		_, ok := AdmitClientImage(models.CapturedImage{DataURL: "data:text/html;base64," + strings.Repeat("A", 800)})
		assert.False(t, ok)
	})
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(2 * time.Second)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	assert.True(t, d.Allow("f1"))
	assert.False(t, d.Allow("f1"))
	assert.True(t, d.Allow("f2")) // independent keys

	now = now.Add(2 * time.Second)
	assert.True(t, d.Allow("f1"))

	d.Forget("f2")
	assert.True(t, d.Allow("f2"))
}
