package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Image decodes the frame into an image.Image.
func (f Frame) Image() (image.Image, error) {
	switch f.Format {
	case FormatMJPEG, FormatJPEG:
		img, err := imaging.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("decoding %s frame: %w", f.Format, err)
		}
		return img, nil
	case FormatYUYV:
		return yuyvToImage(f.Data, f.Width, f.Height)
	case FormatRGB24:
		return rgb24ToImage(f.Data, f.Width, f.Height)
	case FormatGrey:
		if len(f.Data) < f.Width*f.Height {
			return nil, fmt.Errorf("grey frame too short: %d bytes for %dx%d", len(f.Data), f.Width, f.Height)
		}
		return &image.Gray{Pix: f.Data, Stride: f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", f.Format)
	}
}

// yuyvToImage repacks 4:2:2 YUYV into an image.YCbCr.
func yuyvToImage(data []byte, w, h int) (image.Image, error) {
	if w%2 != 0 {
		return nil, fmt.Errorf("yuyv frame width %d is odd", w)
	}
	if len(data) < w*h*2 {
		return nil, fmt.Errorf("yuyv frame too short: %d bytes for %dx%d", len(data), w, h)
	}
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := 0; y < h; y++ {
		row := data[y*w*2 : (y+1)*w*2]
		for x := 0; x < w; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = row[i+1]
			img.Cr[ci] = row[i+3]
		}
	}
	return img, nil
}

func rgb24ToImage(data []byte, w, h int) (image.Image, error) {
	if len(data) < w*h*3 {
		return nil, fmt.Errorf("rgb24 frame too short: %d bytes for %dx%d", len(data), w, h)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for p := 0; p < w*h; p++ {
		img.Pix[p*4] = data[p*3]
		img.Pix[p*4+1] = data[p*3+1]
		img.Pix[p*4+2] = data[p*3+2]
		img.Pix[p*4+3] = 0xff
	}
	return img, nil
}

// Thumbnail returns a reduced copy of the frame, used for the status
// preview written next to status.txt.
func (f Frame) Thumbnail(width int) (image.Image, error) {
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	return imaging.Resize(img, width, 0, imaging.Box), nil
}

// Mean returns the average luma of the frame, logged per burst as a quick
// exposure check.
func (f Frame) Mean() (float64, error) {
	img, err := f.Image()
	if err != nil {
		return 0, err
	}
	grey := imaging.Grayscale(imaging.Resize(img, 64, 0, imaging.Box))
	b := grey.Bounds()
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += float64(color.GrayModel.Convert(grey.At(x, y)).(color.Gray).Y)
		}
	}
	return sum / float64(b.Dx()*b.Dy()), nil
}
