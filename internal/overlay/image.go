package overlay

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImagePayload is the Data value of an Element built from an image-based
// overlay track (e.g. a thumbnail or subtitle-image track), decoded via
// one of the registered golang.org/x/image formats in addition to the
// image/* standard library formats image.Decode already registers.
type ImagePayload struct {
	Image image.Image
	Codec string
}

// DecodeImageElement decodes raw bytes into an Element covering
// [start, end), tagging the decoded image with the format name image.Decode
// detected.
func DecodeImageElement(id string, start, end time.Duration, raw []byte) (Element, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Element{}, fmt.Errorf("overlay: decode image element: %w", err)
	}
	return Element{
		ID:    id,
		Start: start,
		End:   end,
		Data:  ImagePayload{Image: img, Codec: format},
	}, nil
}
