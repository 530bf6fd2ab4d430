package dataset

import (
	"image"
	"image/draw"
	"math"
	"math/rand"

	xdraw "golang.org/x/image/draw"
)

// Transform maps a decoded image to another image. Implementations draw
// randomness only from rng so a pipeline is reproducible per sample.
type Transform interface {
	Apply(img image.Image, rng *rand.Rand) image.Image
}

// Compose applies transforms in order.
type Compose []Transform

func (c Compose) Apply(img image.Image, rng *rand.Rand) image.Image {
	for _, t := range c {
		img = t.Apply(img, rng)
	}
	return img
}

// RandomResizedCrop crops a random area and aspect ratio and scales the crop
// to Size x Size.
type RandomResizedCrop struct {
	Size  int
	Scale [2]float64
	Ratio [2]float64
}

func (r RandomResizedCrop) Apply(img image.Image, rng *rand.Rand) image.Image {
	crop := r.cropRect(img.Bounds(), rng)
	dst := image.NewRGBA(image.Rect(0, 0, r.Size, r.Size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, crop, xdraw.Src, nil)
	return dst
}

func (r RandomResizedCrop) cropRect(b image.Rectangle, rng *rand.Rand) image.Rectangle {
	width, height := b.Dx(), b.Dy()
	area := float64(width * height)
	logLo, logHi := math.Log(r.Ratio[0]), math.Log(r.Ratio[1])

	for attempt := 0; attempt < 10; attempt++ {
		target := area * (r.Scale[0] + rng.Float64()*(r.Scale[1]-r.Scale[0]))
		aspect := math.Exp(logLo + rng.Float64()*(logHi-logLo))
		w := int(math.Round(math.Sqrt(target * aspect)))
		h := int(math.Round(math.Sqrt(target / aspect)))
		if w > 0 && h > 0 && w <= width && h <= height {
			top := rng.Intn(height - h + 1)
			left := rng.Intn(width - w + 1)
			return image.Rect(b.Min.X+left, b.Min.Y+top, b.Min.X+left+w, b.Min.Y+top+h)
		}
	}

	// Fall back to a central crop clamped to the ratio range.
	inRatio := float64(width) / float64(height)
	w, h := width, height
	if inRatio < r.Ratio[0] {
		h = int(math.Round(float64(w) / r.Ratio[0]))
	} else if inRatio > r.Ratio[1] {
		w = int(math.Round(float64(h) * r.Ratio[1]))
	}
	top := (height - h) / 2
	left := (width - w) / 2
	return image.Rect(b.Min.X+left, b.Min.Y+top, b.Min.X+left+w, b.Min.Y+top+h)
}

// HorizontalFlip mirrors the image with probability P.
type HorizontalFlip struct {
	P float64
}

func (f HorizontalFlip) Apply(img image.Image, rng *rand.Rand) image.Image {
	if rng.Float64() >= f.P {
		return img
	}
	src := toRGBA(img)
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srcRow := src.Pix[(y)*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			mx := b.Dx() - 1 - x
			copy(dstRow[mx*4:mx*4+4], srcRow[x*4:x*4+4])
		}
	}
	return dst
}

// Resize scales the shorter side to Size, keeping the aspect ratio.
type Resize struct {
	Size int
}

func (r Resize) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var ow, oh int
	if w <= h {
		ow = r.Size
		oh = int(float64(r.Size) * float64(h) / float64(w))
	} else {
		oh = r.Size
		ow = int(float64(r.Size) * float64(w) / float64(h))
	}
	if ow == w && oh == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, ow, oh))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// CenterCrop cuts a Size x Size window from the middle, zero padding images
// smaller than the window.
type CenterCrop struct {
	Size int
}

func (c CenterCrop) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	top := int(math.Round(float64(b.Dy()-c.Size) / 2))
	left := int(math.Round(float64(b.Dx()-c.Size) / 2))
	dst := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(b.Min.X+left, b.Min.Y+top), draw.Src)
	return dst
}

// toRGBA returns img as an *image.RGBA anchored at the origin.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// pixels writes the RGB channels of img into dst as HWC float32 in [0, 255].
func pixels(img image.Image, dst []float32) {
	rgba := toRGBA(img)
	b := rgba.Bounds()
	i := 0
	for y := 0; y < b.Dy(); y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[i] = float32(row[x*4])
			dst[i+1] = float32(row[x*4+1])
			dst[i+2] = float32(row[x*4+2])
			i += 3
		}
	}
}
