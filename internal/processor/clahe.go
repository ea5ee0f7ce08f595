package processor

import (
	"fmt"
	"image"
	"math"
)

const (
	DefaultClipLimit = 2.0
	DefaultTileGrid  = 8
)

// CLAHE performs contrast-limited adaptive histogram equalization on a
// grayscale buffer. The image is split into tilesX x tilesY regions, each
// region gets its own clipped-histogram lookup table, and every pixel is
// bilinearly interpolated between the four nearest tables.
func CLAHE(src *image.Gray, clipLimit float64, tilesX, tilesY int) (*image.Gray, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if tilesX < 1 || tilesY < 1 {
		return nil, fmt.Errorf("invalid tile grid %dx%d", tilesX, tilesY)
	}
	// Small images get fewer tiles so no tile is empty.
	if tilesX > w {
		tilesX = w
	}
	if tilesY > h {
		tilesY = h
	}

	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY
	// Rounding the tile size up can leave trailing tiles empty; drop them.
	tilesX = (w + tileW - 1) / tileW
	tilesY = (h + tileH - 1) / tileH

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := minInt(x0+tileW, w), minInt(y0+tileH, h)
			luts[ty*tilesX+tx] = tileLUT(src, b.Min, x0, y0, x1, y1, clipLimit)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		gy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := clampInt(int(math.Floor(gy)), 0, tilesY-1)
		ty1 := clampInt(ty0+1, 0, tilesY-1)
		wy := clampFloat(gy-float64(ty0), 0, 1)

		for x := 0; x < w; x++ {
			gx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := clampInt(int(math.Floor(gx)), 0, tilesX-1)
			tx1 := clampInt(tx0+1, 0, tilesX-1)
			wx := clampFloat(gx-float64(tx0), 0, 1)

			v := src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)]
			top := (1-wx)*float64(luts[ty0*tilesX+tx0][v]) + wx*float64(luts[ty0*tilesX+tx1][v])
			bottom := (1-wx)*float64(luts[ty1*tilesX+tx0][v]) + wx*float64(luts[ty1*tilesX+tx1][v])
			dst.Pix[y*dst.Stride+x] = uint8(clampFloat((1-wy)*top+wy*bottom+0.5, 0, 255))
		}
	}

	return dst, nil
}

// tileLUT builds the equalization table of one tile with the histogram
// clipped at clipLimit times the uniform bin height.
func tileLUT(src *image.Gray, origin image.Point, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	area := (x1 - x0) * (y1 - y0)
	for y := y0; y < y1; y++ {
		row := src.Pix[src.PixOffset(origin.X+x0, origin.Y+y):]
		for x := 0; x < x1-x0; x++ {
			hist[row[x]]++
		}
	}

	if clipLimit > 0 {
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
		bonus, residual := excess/256, excess%256
		for i := range hist {
			hist[i] += bonus
		}
		if residual > 0 {
			step := maxInt(256/residual, 1)
			for i := 0; i < 256 && residual > 0; i += step {
				hist[i]++
				residual--
			}
		}
	}

	var lut [256]uint8
	scale := 255.0 / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = uint8(clampFloat(float64(sum)*scale+0.5, 0, 255))
	}
	return lut
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
