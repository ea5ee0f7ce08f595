package processor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
)

func TestValidatorAcceptsWellFormedImages(t *testing.T) {
	v := NewImageValidator(DefaultMaxUploadSize, nil)
	img := testPattern(40, 20)

	assert.NoError(t, v.Check(encodePNG(t, img), "image/png"))
	assert.NoError(t, v.Check(encodeJPEG(t, img), "image/jpeg"))
	assert.NoError(t, v.Check(encodeJPEG(t, img), "image/jpg"))
	assert.NoError(t, v.Check(encodePNG(t, img), "image/png; charset=binary"))
	assert.True(t, v.Validate(encodePNG(t, img), "IMAGE/PNG"))
}

func TestValidatorRejections(t *testing.T) {
	v := NewImageValidator(DefaultMaxUploadSize, nil)
	pngData := encodePNG(t, testPattern(40, 20))
	jpegData := encodeJPEG(t, testPattern(40, 20))

	corrupted := append([]byte(nil), pngData...)
	idat := bytes.Index(corrupted, []byte("IDAT"))
	require.Greater(t, idat, 0)
	corrupted[idat+6] ^= 0xFF

	tests := []struct {
		name        string
		data        []byte
		contentType string
		code        svcerrors.ErrorCode
	}{
		{"random bytes", []byte{0x01, 0x02, 0x03, 0x04, 0x05}, "image/png", svcerrors.ErrorInvalidImage},
		{"empty body", nil, "image/png", svcerrors.ErrorInvalidImage},
		{"text content type", pngData, "text/plain", svcerrors.ErrorUnsupportedFormat},
		{"missing content type", pngData, "", svcerrors.ErrorUnsupportedFormat},
		{"gif content type", pngData, "image/gif", svcerrors.ErrorUnsupportedFormat},
		{"truncated png", pngData[:len(pngData)-12], "image/png", svcerrors.ErrorInvalidImage},
		{"png header only", pngData[:40], "image/png", svcerrors.ErrorInvalidImage},
		{"png crc mismatch", corrupted, "image/png", svcerrors.ErrorInvalidImage},
		{"truncated jpeg", jpegData[:len(jpegData)-2], "image/jpeg", svcerrors.ErrorInvalidImage},
		{"jpeg soi only", []byte{0xFF, 0xD8, 0xFF, 0xD9}, "image/jpeg", svcerrors.ErrorInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Check(tt.data, tt.contentType)
			require.Error(t, err)
			se, ok := svcerrors.AsServiceError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, se.Code)
			assert.True(t, se.IsValidation())
			assert.False(t, v.Validate(tt.data, tt.contentType))
		})
	}
}

func TestValidatorRejectsOversizedPayloadBeforeInspectingIt(t *testing.T) {
	v := NewImageValidator(DefaultMaxUploadSize, nil)
	big := make([]byte, 11*1024*1024)

	err := v.Check(big, "image/png")
	require.Error(t, err)
	assert.True(t, svcerrors.HasCode(err, svcerrors.ErrorPayloadTooLarge))

	se, _ := svcerrors.AsServiceError(err)
	assert.Equal(t, "File size too large. Maximum size is 10MB", se.Message)
}

func TestValidatorSizeBoundary(t *testing.T) {
	v := NewImageValidator(1024, nil)
	assert.NoError(t, v.CheckSize(1024))
	assert.Error(t, v.CheckSize(1025))
	assert.Equal(t, int64(1024), v.MaxSize())

	assert.Equal(t, DefaultMaxUploadSize, NewImageValidator(0, nil).MaxSize())
}

func TestValidatorRestrictedTypes(t *testing.T) {
	v := NewImageValidator(DefaultMaxUploadSize, []string{"jpg"})
	pngData := encodePNG(t, testPattern(10, 10))

	err := v.Check(pngData, "image/png")
	assert.True(t, svcerrors.HasCode(err, svcerrors.ErrorUnsupportedFormat))

	// declared type is accepted but the content is not
	err = v.Check(pngData, "image/jpeg")
	assert.True(t, svcerrors.HasCode(err, svcerrors.ErrorInvalidImage))

	assert.NoError(t, v.Check(encodeJPEG(t, testPattern(10, 10)), "image/jpeg"))
}

func TestCanonicalFormat(t *testing.T) {
	assert.Equal(t, "png", canonicalFormat("image/png"))
	assert.Equal(t, "png", canonicalFormat(" PNG "))
	assert.Equal(t, "jpeg", canonicalFormat("image/pjpeg"))
	assert.Equal(t, "jpeg", canonicalFormat("jpg"))
	assert.Equal(t, "", canonicalFormat("image/webp"))
	assert.Equal(t, "", canonicalFormat(""))
}

func TestDetectFormatFromMagicBytes(t *testing.T) {
	assert.Equal(t, "png", detectFormatFromMagicBytes(encodePNG(t, testPattern(2, 2))))
	assert.Equal(t, "jpeg", detectFormatFromMagicBytes(encodeJPEG(t, testPattern(2, 2))))
	assert.Equal(t, "", detectFormatFromMagicBytes([]byte("GIF89a")))
	assert.Equal(t, "", detectFormatFromMagicBytes(nil))
}
