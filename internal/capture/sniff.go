// Package capture implements the image admission channels: network
// interception (privileged), DOM extraction from container HTML, and
// client-supplied canvas readback. Each channel has its own admission
// filter; the aggregator handles cross-channel dedup.
package capture

import "bytes"

// Magic-byte signatures for the accepted image formats. Declared content
// types are never trusted; only a signature match admits a payload.
var signatures = []struct {
	mime   string
	offset int
	magic  []byte
}{
	{"image/png", 0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{"image/jpeg", 0, []byte{0xFF, 0xD8, 0xFF}},
	{"image/gif", 0, []byte("GIF87a")},
	{"image/gif", 0, []byte("GIF89a")},
	{"image/webp", 8, []byte("WEBP")},
	{"image/bmp", 0, []byte("BM")},
}

// SniffImageType classifies raw bytes by magic-byte signature.
// Returns ("", false) when no known signature matches.
func SniffImageType(data []byte) (string, bool) {
	for _, sig := range signatures {
		if len(data) < sig.offset+len(sig.magic) {
			continue
		}
		if !bytes.Equal(data[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			continue
		}
		// WebP additionally requires the RIFF container header.
		if sig.mime == "image/webp" && !bytes.HasPrefix(data, []byte("RIFF")) {
			continue
		}
		return sig.mime, true
	}
	return "", false
}

// ExtensionForMIME maps an accepted MIME type to a bundle file extension.
func ExtensionForMIME(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}
