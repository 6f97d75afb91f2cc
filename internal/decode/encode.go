package decode

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/pkg/errors"
)

// DefaultJPEGQuality is used when a caller passes a quality outside 1..100.
const DefaultJPEGQuality = 75

// ToImage wraps an RGB24 frame in an opaque NRGBA image.
func ToImage(frame *core.RawFrame) (*image.NRGBA, error) {
	if frame == nil {
		return nil, errors.New("no frame")
	}
	if len(frame.Pix) != core.FrameSize(frame.Width, frame.Height) {
		return nil, errors.Errorf("frame %dx%d carries %d bytes", frame.Width, frame.Height, len(frame.Pix))
	}
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i < len(frame.Pix); i, j = i+3, j+4 {
		img.Pix[j] = frame.Pix[i]
		img.Pix[j+1] = frame.Pix[i+1]
		img.Pix[j+2] = frame.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// EncodePNG renders a raw frame as PNG, for saving screenshots.
func EncodePNG(frame *core.RawFrame) ([]byte, error) {
	img, err := ToImage(frame)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "failed to encode png")
	}
	return buf.Bytes(), nil
}

// EncodeJPEG renders a raw frame as JPEG for the browser preview.
func EncodeJPEG(frame *core.RawFrame, quality int) ([]byte, error) {
	img, err := ToImage(frame)
	if err != nil {
		return nil, err
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode jpeg")
	}
	return buf.Bytes(), nil
}
