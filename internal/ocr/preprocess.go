package ocr

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
)

// PreprocessOptions tunes the image cleanup applied before recognition
type PreprocessOptions struct {
	UpscaleFactor float64
	ClipLimit     float64
	TileGrid      int
}

// DefaultPreprocessOptions matches overlay text in vertical short-form video
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		UpscaleFactor: 2.0,
		ClipLimit:     3.0,
		TileGrid:      8,
	}
}

// Preprocess converts img to grayscale, upscales it, smooths noise with a
// 3x3 gaussian and normalizes local contrast with CLAHE.
func Preprocess(img image.Image, opts PreprocessOptions) (*image.Gray, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}

	gray := toGray(img)

	if opts.UpscaleFactor > 1 {
		w := uint(math.Round(float64(b.Dx()) * opts.UpscaleFactor))
		h := uint(math.Round(float64(b.Dy()) * opts.UpscaleFactor))
		gray = toGray(resize.Resize(w, h, gray, resize.Bicubic))
	}

	gray = gaussianBlur3(gray)

	if opts.TileGrid > 0 && opts.ClipLimit > 0 {
		gray = clahe(gray, opts.ClipLimit, opts.TileGrid)
	}
	return gray, nil
}

// toGray returns a zero-origin luminance copy of img
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// reflect101 mirrors out-of-range indices without repeating the edge pixel
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// gaussianBlur3 applies the separable [1 2 1]/4 kernel
func gaussianBlur3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	tmp := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			tmp[y*w+x] = uint16(row[reflect101(x-1, w)]) + 2*uint16(row[x]) + uint16(row[reflect101(x+1, w)])
		}
	}

	dst := image.NewGray(src.Rect)
	for y := 0; y < h; y++ {
		up, down := reflect101(y-1, h), reflect101(y+1, h)
		for x := 0; x < w; x++ {
			sum := uint32(tmp[up*w+x]) + 2*uint32(tmp[y*w+x]) + uint32(tmp[down*w+x])
			dst.Pix[y*dst.Stride+x] = uint8((sum + 8) / 16)
		}
	}
	return dst
}

// clahe performs contrast-limited adaptive histogram equalization over a
// grid x grid tiling, bilinearly interpolating between tile mappings.
func clahe(src *image.Gray, clipLimit float64, grid int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if grid > w {
		grid = w
	}
	gy := grid
	if gy > h {
		gy = h
	}
	gx := grid
	// the last tile in each direction absorbs the remainder so none is empty
	tileW := w / gx
	tileH := h / gy

	luts := make([][256]uint8, gx*gy)
	for ty := 0; ty < gy; ty++ {
		for tx := 0; tx < gx; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := x0+tileW, y0+tileH
			if tx == gx-1 {
				x1 = w
			}
			if ty == gy-1 {
				y1 = h
			}
			luts[ty*gx+tx] = tileLUT(src, x0, y0, x1, y1, clipLimit)
		}
	}

	dst := image.NewGray(src.Rect)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := int(math.Floor(fy))
		ay := fy - float64(ty0)
		ty1 := ty0 + 1
		ty0, ty1 = clampInt(ty0, 0, gy-1), clampInt(ty1, 0, gy-1)

		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := int(math.Floor(fx))
			ax := fx - float64(tx0)
			tx1 := tx0 + 1
			tx0, tx1 = clampInt(tx0, 0, gx-1), clampInt(tx1, 0, gx-1)

			v := src.Pix[y*src.Stride+x]
			top := (1-ax)*float64(luts[ty0*gx+tx0][v]) + ax*float64(luts[ty0*gx+tx1][v])
			bot := (1-ax)*float64(luts[ty1*gx+tx0][v]) + ax*float64(luts[ty1*gx+tx1][v])
			dst.Pix[y*dst.Stride+x] = uint8(math.Round((1-ay)*top + ay*bot))
		}
	}
	return dst
}

func tileLUT(src *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		row := src.Pix[y*src.Stride:]
		for x := x0; x < x1; x++ {
			hist[row[x]]++
		}
	}

	area := (x1 - x0) * (y1 - y0)
	limit := int(clipLimit * float64(area) / 256)
	if limit < 1 {
		limit = 1
	}

	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	bonus, rest := excess/256, excess%256
	for i := range hist {
		hist[i] += bonus
		if i < rest {
			hist[i]++
		}
	}

	var lut [256]uint8
	cdf := 0
	scale := 255.0 / float64(area)
	for i := range hist {
		cdf += hist[i]
		lut[i] = uint8(math.Min(255, math.Round(float64(cdf)*scale)))
	}
	return lut
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
