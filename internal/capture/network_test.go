package capture

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/captrace/captrace/internal/rules"
	"github.com/captrace/captrace/pkg/models"
)

type staticRules struct{ set *rules.Set }

func (s staticRules) Current() *rules.Set { return s.set }

func newTestInterceptor() *Interceptor {
	return NewInterceptor(staticRules{set: rules.Default()}, zap.NewNop().Sugar())
}

func jpegBody(size int) string {
	raw := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, size-4)...)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestAdmitAcceptsAllowlistedImage(t *testing.T) {
	it := newTestInterceptor()

	// URL claims PNG; magic bytes say JPEG. Sniffing wins.
	img, err := it.Admit("https://www.google.com/recaptcha/api2/payload.png", "image/png", jpegBody(2048))
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.Equal(t, models.SourceNetwork, img.Source)
	assert.Equal(t, 2048, img.Size)
	assert.Contains(t, img.DataURL, "data:image/jpeg;base64,")
	assert.False(t, img.Timestamp.IsZero())
}

func TestAdmitRejections(t *testing.T) {
	it := newTestInterceptor()

	t.Run("off-allowlist url", func(t *testing.T) {
		_, err := it.Admit("https://cdn.example.com/logo.png", "image/png", jpegBody(2048))
		assert.ErrorIs(t, err, ErrNotAllowlisted)
	})

	t.Run("below size floor", func(t *testing.T) {
		_, err := it.Admit("https://www.google.com/recaptcha/api2/icon.png", "image/png", jpegBody(400))
		assert.ErrorIs(t, err, ErrTooSmall)
	})

	t.Run("no known signature", func(t *testing.T) {
		body := base64.StdEncoding.EncodeToString(make([]byte, 2048))
		_, err := it.Admit("https://www.google.com/recaptcha/api2/payload", "image/png", body)
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})

	t.Run("malformed base64", func(t *testing.T) {
		_, err := it.Admit("https://www.google.com/recaptcha/api2/payload", "image/png", "!!not-base64!!")
		assert.ErrorIs(t, err, ErrMalformedBase64)
	})
}
