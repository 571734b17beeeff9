package x11

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/BurntSushi/xgb/xproto"
	xdraw "golang.org/x/image/draw"
)

// putImageHeader is the fixed part of a PutImage request.
const putImageHeader = 24

type pixmapFormat struct {
	bitsPerPixel int
	scanlinePad  int
}

func findPixmapFormat(formats []xproto.Format, depth byte) (pixmapFormat, bool) {
	for _, f := range formats {
		if f.Depth == depth {
			return pixmapFormat{bitsPerPixel: int(f.BitsPerPixel), scanlinePad: int(f.ScanlinePad)}, true
		}
	}
	return pixmapFormat{}, false
}

// letterbox scales src to fit width x height keeping its aspect ratio and
// centres it on black.
func letterbox(src *image.RGBA, width, height int) *image.RGBA {
	bounds := src.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return src
	}

	scaleX := float64(width) / float64(bounds.Dx())
	scaleY := float64(height) / float64(bounds.Dy())
	scale := min(scaleX, scaleY)

	dstWidth := int(float64(bounds.Dx()) * scale)
	dstHeight := int(float64(bounds.Dy()) * scale)
	offsetX := (width - dstWidth) / 2
	offsetY := (height - dstHeight) / 2

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
	dstRect := image.Rect(offsetX, offsetY, offsetX+dstWidth, offsetY+dstHeight)
	xdraw.ApproxBiLinear.Scale(out, dstRect, src, bounds, xdraw.Src, nil)
	return out
}

// toZPixmap converts img to the server's ZPixmap layout: BGR(x) with each
// scanline padded to scanlinePad bits.
func toZPixmap(img *image.RGBA, format pixmapFormat, depth byte) ([]byte, int, error) {
	bytesPerPixel := format.bitsPerPixel / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, 0, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()

	padBytes := max(format.scanlinePad/8, 1)
	unpadded := width * bytesPerPixel
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+width*4]
		dst := data[y*stride:]
		for x := 0; x < width; x++ {
			s := src[x*4 : x*4+4]
			p := dst[x*bytesPerPixel:]
			p[0] = s[2]
			p[1] = s[1]
			p[2] = s[0]
			if bytesPerPixel == 4 && depth == 32 {
				p[3] = s[3]
			}
		}
	}
	return data, stride, nil
}

type strip struct {
	y, rows int
}

// strips splits height rows of stride bytes into runs that each fit in
// one request of maxRequest bytes.
func strips(height, stride, maxRequest int) []strip {
	rowsPer := height
	if stride > 0 && maxRequest > putImageHeader {
		rowsPer = max((maxRequest-putImageHeader)/stride, 1)
	}
	var out []strip
	for y := 0; y < height; y += rowsPer {
		out = append(out, strip{y: y, rows: min(rowsPer, height-y)})
	}
	return out
}
