package processor

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/trunov/captionhub/internal/errs"
)

// ImageModifier defines an image modifier
type ImageModifier interface {
	Modify(img image.Image) image.Image
}

// ImageResizer shrinks images to fit within Width x Height, keeping the
// aspect ratio. A zero bound is unconstrained.
type ImageResizer struct {
	Width  int
	Height int
}

// Modify to implement ImageModifier interface
func (r *ImageResizer) Modify(img image.Image) image.Image {
	w := float64(img.Bounds().Dx())
	h := float64(img.Bounds().Dy())

	if w == 0 || h == 0 || (r.Width == 0 && r.Height == 0) {
		return img
	}

	ratio := 0.0
	if r.Width > 0 {
		ratio = w / float64(r.Width)
	}
	if r.Height > 0 {
		if hRatio := h / float64(r.Height); hRatio > ratio {
			ratio = hRatio
		}
	}

	// Nothing to do - return original image
	if ratio <= 1 {
		return img
	}

	return imaging.Resize(img, int(w/ratio), int(h/ratio), imaging.Lanczos)
}

// ImageProcessor loads an image, applies modifiers and encodes it.
type ImageProcessor struct {
	img image.Image
}

// Load detects the format of data and decodes it. JPEG orientation tags are
// applied so the re-encoded output is upright.
func (i *ImageProcessor) Load(data []byte) error {
	mime := mimetype.Detect(data)
	switch mime.String() {
	case "image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff":
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("decode %s: %w", mime, err)
		}
		i.img = img
	case "image/webp":
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode webp: %w", err)
		}
		i.img = img
	default:
		return fmt.Errorf("unsupported image type %s", mime)
	}
	return nil
}

func (i *ImageProcessor) Apply(modifiers ...ImageModifier) {
	for _, modifier := range modifiers {
		i.img = modifier.Modify(i.img)
	}
}

func (i *ImageProcessor) GetJPEG(quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := imaging.Encode(buf, i.img, imaging.JPEG, imaging.JPEGQuality(quality))
	return buf.Bytes(), err
}

// Compressor re-encodes uploads as JPEG at a fixed quality.
type Compressor struct {
	Quality int
	Resizer ImageResizer
}

func NewCompressor(quality, maxWidth, maxHeight int) *Compressor {
	return &Compressor{Quality: quality, Resizer: ImageResizer{Width: maxWidth, Height: maxHeight}}
}

// Compress reads an encoded image and returns the compressed JPEG bytes.
// Input that cannot be decoded is reported as errs.KindInvalidInput.
func (c *Compressor) Compress(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.E(errs.KindTransient, "processor.Compress", err)
	}

	imgp := &ImageProcessor{}
	if err := imgp.Load(data); err != nil {
		return nil, errs.E(errs.KindInvalidInput, "processor.Compress", err)
	}
	imgp.Apply(&c.Resizer)

	out, err := imgp.GetJPEG(c.Quality)
	if err != nil {
		return nil, errs.E(errs.KindTransient, "processor.Compress", fmt.Errorf("encode jpeg: %w", err))
	}
	return out, nil
}
