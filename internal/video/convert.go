package video

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Fill writes src into data laid out for desc, scaling when the sizes
// differ. data must hold at least DataLen(desc) bytes.
func Fill(desc Desc, data []byte, src image.Image) error {
	if len(data) < DataLen(desc.Codec, desc.Width, desc.Height) {
		return fmt.Errorf("short %s buffer: %d bytes", desc.Codec, len(data))
	}
	if src.Bounds().Dx() != desc.Width || src.Bounds().Dy() != desc.Height {
		scaled := image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		src = scaled
	}

	switch desc.Codec {
	case RGBA:
		dst, _ := WrapImage(desc, data)
		xdraw.Draw(dst.(*image.RGBA), dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
		return nil
	case I420:
		if ycc, ok := src.(*image.YCbCr); ok && ycc.SubsampleRatio == image.YCbCrSubsampleRatio420 {
			copyI420(desc, data, ycc)
			return nil
		}
		toI420(desc, data, src)
		return nil
	default:
		return fmt.Errorf("cannot fill %s frame", desc.Codec)
	}
}

func copyI420(desc Desc, data []byte, src *image.YCbCr) {
	dst, _ := WrapImage(desc, data)
	d := dst.(*image.YCbCr)
	b := src.Bounds()
	for y := 0; y < desc.Height; y++ {
		off := src.YOffset(b.Min.X, b.Min.Y+y)
		copy(d.Y[y*d.YStride:y*d.YStride+desc.Width], src.Y[off:off+desc.Width])
	}
	cw, ch := (desc.Width+1)/2, (desc.Height+1)/2
	for y := 0; y < ch; y++ {
		off := src.COffset(b.Min.X, b.Min.Y+y*2)
		copy(d.Cb[y*d.CStride:y*d.CStride+cw], src.Cb[off:off+cw])
		copy(d.Cr[y*d.CStride:y*d.CStride+cw], src.Cr[off:off+cw])
	}
}

// toI420 converts any image to planar 4:2:0, taking chroma from the
// top-left pixel of each 2x2 block.
func toI420(desc Desc, data []byte, src image.Image) {
	dst, _ := WrapImage(desc, data)
	d := dst.(*image.YCbCr)
	b := src.Bounds()
	for y := 0; y < desc.Height; y++ {
		for x := 0; x < desc.Width; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			d.Y[y*d.YStride+x] = yy
			if x%2 == 0 && y%2 == 0 {
				ci := (y/2)*d.CStride + x/2
				d.Cb[ci] = cb
				d.Cr[ci] = cr
			}
		}
	}
}
