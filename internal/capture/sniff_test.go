package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniffImageType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mime string
		ok   bool
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "image/png", true},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "image/jpeg", true},
		{"gif87", []byte("GIF87a......"), "image/gif", true},
		{"gif89", []byte("GIF89a......"), "image/gif", true},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8 "), "image/webp", true},
		{"bmp", []byte("BM\x36\x00"), "image/bmp", true},
		{"truncated png", []byte{0x89, 0x50}, "", false},
		{"riff non-webp", []byte("RIFF\x10\x00\x00\x00WAVEfmt "), "", false},
		{"garbage", []byte("<html><body>not found</body></html>"), "", false},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, ok := SniffImageType(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.mime, mime)
		})
	}
}

// A payload with JPEG magic bytes is image/jpeg regardless of what its URL
// or declared type claims.
func TestSniffIgnoresClaimedType(t *testing.T) {
	jpegClaimingPNG := append([]byte{0xFF, 0xD8, 0xFF}, make([]byte, 32)...)
	mime, ok := SniffImageType(jpegClaimingPNG)
	assert.True(t, ok)
	assert.Equal(t, "image/jpeg", mime)
}

func TestExtensionForMIME(t *testing.T) {
	assert.Equal(t, ".png", ExtensionForMIME("image/png"))
	assert.Equal(t, ".jpg", ExtensionForMIME("image/jpeg"))
	assert.Equal(t, ".webp", ExtensionForMIME("image/webp"))
	assert.Equal(t, ".bin", ExtensionForMIME("application/octet-stream"))
}
