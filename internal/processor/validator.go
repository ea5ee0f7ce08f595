package processor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
	"github.com/adverant/nexus/ocr-service/internal/logging"
)

const DefaultMaxUploadSize int64 = 10 << 20

var (
	pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	jpegSOI      = []byte{0xFF, 0xD8, 0xFF}
)

// ImageValidator performs the cheap checks that gate every upload: declared
// type, size, and a structural walk of the container without decoding pixels.
type ImageValidator struct {
	maxSize  int64
	accepted map[string]bool // canonical format names: "png", "jpeg"
	logger   *logging.Logger
}

// NewImageValidator builds a validator. acceptedTypes holds short names
// ("png", "jpeg", "jpg"); an empty list accepts png and jpeg.
func NewImageValidator(maxSize int64, acceptedTypes []string) *ImageValidator {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	if len(acceptedTypes) == 0 {
		acceptedTypes = []string{"png", "jpeg"}
	}

	accepted := make(map[string]bool, len(acceptedTypes))
	for _, t := range acceptedTypes {
		if f := canonicalFormat(t); f != "" {
			accepted[f] = true
		}
	}

	return &ImageValidator{
		maxSize:  maxSize,
		accepted: accepted,
		logger:   logging.NewLogger("validator"),
	}
}

// MaxSize returns the configured upload limit in bytes.
func (v *ImageValidator) MaxSize() int64 {
	return v.maxSize
}

// Validate reports whether data is an acceptable image upload.
func (v *ImageValidator) Validate(data []byte, contentType string) bool {
	return v.Check(data, contentType) == nil
}

// Check is Validate with the rejection reason. The returned error is always a
// validation-family *errors.ServiceError.
func (v *ImageValidator) Check(data []byte, contentType string) error {
	if err := v.CheckContentType(contentType); err != nil {
		return err
	}
	if err := v.CheckSize(int64(len(data))); err != nil {
		return err
	}
	if err := v.verify(data); err != nil {
		v.logger.Warn("Image validation failed", "error", err, "size", len(data))
		return svcerrors.NewInvalidImageError(err)
	}
	return nil
}

// CheckContentType looks only at the declared type, never at the bytes.
func (v *ImageValidator) CheckContentType(contentType string) error {
	if !v.accepted[canonicalFormat(contentType)] {
		return svcerrors.NewUnsupportedFormatError(contentType)
	}
	return nil
}

// CheckSize rejects payloads above the configured limit.
func (v *ImageValidator) CheckSize(size int64) error {
	if size > v.maxSize {
		return svcerrors.NewPayloadTooLargeError(size, v.maxSize)
	}
	return nil
}

// verify fails closed: a panic anywhere in the walk is reported as invalid input.
func (v *ImageValidator) verify(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("integrity check panicked: %v", r)
		}
	}()

	format := detectFormatFromMagicBytes(data)
	if format == "" {
		return fmt.Errorf("unrecognized image signature")
	}
	if !v.accepted[format] {
		return fmt.Errorf("image content is %s, which is not accepted", format)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}

	switch format {
	case "png":
		return verifyPNG(data)
	case "jpeg":
		return verifyJPEG(data)
	}
	return nil
}

// canonicalFormat maps a MIME type or short name onto "png" or "jpeg".
func canonicalFormat(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	ct = strings.TrimPrefix(ct, "image/")
	switch ct {
	case "png":
		return "png"
	case "jpeg", "jpg", "pjpeg":
		return "jpeg"
	}
	return ""
}

// detectFormatFromMagicBytes sniffs the container from its leading bytes
func detectFormatFromMagicBytes(data []byte) string {
	if bytes.HasPrefix(data, pngSignature) {
		return "png"
	}
	if bytes.HasPrefix(data, jpegSOI) {
		return "jpeg"
	}
	return ""
}

// verifyPNG walks every chunk up to IEND checking lengths and CRCs.
func verifyPNG(data []byte) error {
	pos := len(pngSignature)
	first := true

	for {
		if pos+8 > len(data) {
			return fmt.Errorf("png truncated before IEND")
		}
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		if length > 0x7FFFFFFF {
			return fmt.Errorf("png chunk length %d out of range", length)
		}
		chunkType := string(data[pos+4 : pos+8])
		end := pos + 8 + int(length)
		if end+4 > len(data) {
			return fmt.Errorf("png chunk %q truncated", chunkType)
		}

		if first {
			if chunkType != "IHDR" || length != 13 {
				return fmt.Errorf("png must start with IHDR, got %q", chunkType)
			}
			first = false
		}

		want := binary.BigEndian.Uint32(data[end : end+4])
		if got := crc32.ChecksumIEEE(data[pos+4 : end]); got != want {
			return fmt.Errorf("png chunk %q crc mismatch", chunkType)
		}

		if chunkType == "IEND" {
			return nil
		}
		pos = end + 4
	}
}

// verifyJPEG walks marker segments and scans, requiring a frame header and a
// terminating EOI.
func verifyJPEG(data []byte) error {
	pos := 2
	sawFrame := false

	for {
		if pos >= len(data) {
			return fmt.Errorf("jpeg truncated before EOI")
		}
		if data[pos] != 0xFF {
			return fmt.Errorf("jpeg expected marker at offset %d", pos)
		}
		for pos < len(data) && data[pos] == 0xFF {
			pos++
		}
		if pos >= len(data) {
			return fmt.Errorf("jpeg truncated inside marker")
		}
		marker := data[pos]
		pos++

		switch {
		case marker == 0xD9:
			if !sawFrame {
				return fmt.Errorf("jpeg has no frame header")
			}
			return nil
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			continue
		}

		if pos+2 > len(data) {
			return fmt.Errorf("jpeg segment length truncated")
		}
		length := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		if length < 2 || pos+length > len(data) {
			return fmt.Errorf("jpeg segment 0x%02X truncated", marker)
		}

		if isSOF(marker) {
			sawFrame = true
		}
		pos += length

		if marker == 0xDA {
			if !sawFrame {
				return fmt.Errorf("jpeg scan before frame header")
			}
			next, err := skipEntropyCodedData(data, pos)
			if err != nil {
				return err
			}
			pos = next
		}
	}
}

// skipEntropyCodedData returns the offset of the next real marker after a scan.
func skipEntropyCodedData(data []byte, pos int) (int, error) {
	for pos+1 < len(data) {
		if data[pos] != 0xFF {
			pos++
			continue
		}
		next := data[pos+1]
		if next == 0x00 || next == 0xFF || (next >= 0xD0 && next <= 0xD7) {
			pos++
			continue
		}
		return pos, nil
	}
	return 0, fmt.Errorf("jpeg truncated inside scan data")
}

func isSOF(marker byte) bool {
	return marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC
}
