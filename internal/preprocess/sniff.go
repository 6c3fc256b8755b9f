package preprocess

import "bytes"

// Magic byte prefixes for the supported containers.
var (
	jpegMagic     = []byte{0xFF, 0xD8, 0xFF}
	pngMagic      = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	riffMagic     = []byte("RIFF")
	webpFourCC    = []byte("WEBP")
	tiffLittleEnd = []byte{0x49, 0x49, 0x2A, 0x00}
	tiffBigEnd    = []byte{0x4D, 0x4D, 0x00, 0x2A}
)

// SniffFormat identifies the container from magic bytes alone. It returns
// "jpeg", "png", "webp", or "tiff", or "" when the bytes match none of
// them. Sniffing never decodes, so it is safe on hostile input.
func SniffFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return "jpeg"
	case bytes.HasPrefix(data, pngMagic):
		return "png"
	case len(data) >= 12 && bytes.HasPrefix(data, riffMagic) && bytes.Equal(data[8:12], webpFourCC):
		return "webp"
	case bytes.HasPrefix(data, tiffLittleEnd), bytes.HasPrefix(data, tiffBigEnd):
		return "tiff"
	default:
		return ""
	}
}
