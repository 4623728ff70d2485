// Package transform provides pixel layout conversions between the packed
// frame formats produced by decoders and the planar tensor layouts models
// consume.
package transform

// CopyPlane copies rowBytes from each of height rows, honoring independent
// source and destination strides
func CopyPlane(src, dst []uint8, height, rowBytes, srcStride, dstStride int) {
	for y := 0; y < height; y++ {
		copy(dst[y*dstStride:y*dstStride+rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
}

// SwapRB24 copies a packed 3-channel plane while exchanging the first and
// third channel of every pixel
func SwapRB24(src, dst []uint8, height, width, srcStride, dstStride int) {
	for y := 0; y < height; y++ {
		srow := src[y*srcStride:]
		drow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			drow[x*3] = srow[x*3+2]
			drow[x*3+1] = srow[x*3+1]
			drow[x*3+2] = srow[x*3]
		}
	}
}

// SwapRB32 copies a packed 4-channel plane while exchanging the first and
// third channel of every pixel, leaving the fourth untouched
func SwapRB32(src, dst []uint8, height, width, srcStride, dstStride int) {
	for y := 0; y < height; y++ {
		srow := src[y*srcStride:]
		drow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			drow[x*4] = srow[x*4+2]
			drow[x*4+1] = srow[x*4+1]
			drow[x*4+2] = srow[x*4]
			drow[x*4+3] = srow[x*4+3]
		}
	}
}

// PackNCHW splits a packed interleaved plane into channel planes laid out
// contiguously in dst. With reverse set the channel order is mirrored, which
// turns BGR input into RGB planes and back.
func PackNCHW(src, dst []uint8, height, width, channels, srcStride int, reverse bool) {
	planeSize := height * width
	for c := 0; c < channels; c++ {
		sc := c
		if reverse {
			sc = channels - 1 - c
		}
		plane := dst[c*planeSize:]
		for y := 0; y < height; y++ {
			srow := src[y*srcStride:]
			for x := 0; x < width; x++ {
				plane[y*width+x] = srow[x*channels+sc]
			}
		}
	}
}

// PackNCHWDropAlpha splits a packed 4-channel plane into three contiguous
// channel planes, discarding the fourth channel. With reverse set the plane
// order is mirrored.
func PackNCHWDropAlpha(src, dst []uint8, height, width, srcStride int, reverse bool) {
	planeSize := height * width
	for c := 0; c < 3; c++ {
		sc := c
		if reverse {
			sc = 2 - c
		}
		plane := dst[c*planeSize:]
		for y := 0; y < height; y++ {
			srow := src[y*srcStride:]
			for x := 0; x < width; x++ {
				plane[y*width+x] = srow[x*4+sc]
			}
		}
	}
}

// PlanesToRGBA interleaves three channel planes into packed RGBA rows with
// opaque alpha
func PlanesToRGBA(r, g, b []uint8, rStride, gStride, bStride int, dst []uint8, height, width, dstStride int) {
	for y := 0; y < height; y++ {
		rrow := r[y*rStride:]
		grow := g[y*gStride:]
		brow := b[y*bStride:]
		drow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			drow[x*4] = rrow[x]
			drow[x*4+1] = grow[x]
			drow[x*4+2] = brow[x]
			drow[x*4+3] = 255
		}
	}
}

// UnpackNCHW interleaves contiguous channel planes back into a packed plane
func UnpackNCHW(src, dst []uint8, height, width, channels, dstStride int, reverse bool) {
	planeSize := height * width
	for c := 0; c < channels; c++ {
		dc := c
		if reverse {
			dc = channels - 1 - c
		}
		plane := src[c*planeSize:]
		for y := 0; y < height; y++ {
			drow := dst[y*dstStride:]
			for x := 0; x < width; x++ {
				drow[x*channels+dc] = plane[y*width+x]
			}
		}
	}
}

// ConvertNHWCtoNCHW converts from NHWC to NCHW format
func ConvertNHWCtoNCHW(src, dst []uint8, height, width, channels int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < channels; c++ {
				srcIdx := (y*width+x)*channels + c
				dstIdx := c*height*width + y*width + x
				dst[dstIdx] = src[srcIdx]
			}
		}
	}
}

// ConvertNCHWtoNHWC converts from NCHW to NHWC format
func ConvertNCHWtoNHWC(src, dst []uint8, height, width, channels int) {
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				srcIdx := c*height*width + y*width + x
				dstIdx := (y*width+x)*channels + c
				dst[dstIdx] = src[srcIdx]
			}
		}
	}
}

// ConvertNHWCtoNCHWF32 converts float32 data from NHWC to NCHW format
func ConvertNHWCtoNCHWF32(src, dst []float32, height, width, channels int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < channels; c++ {
				srcIdx := (y*width+x)*channels + c
				dstIdx := c*height*width + y*width + x
				dst[dstIdx] = src[srcIdx]
			}
		}
	}
}

// ConvertNCHWtoNHWCF32 converts float32 data from NCHW to NHWC format
func ConvertNCHWtoNHWCF32(src, dst []float32, height, width, channels int) {
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				srcIdx := c*height*width + y*width + x
				dstIdx := (y*width+x)*channels + c
				dst[dstIdx] = src[srcIdx]
			}
		}
	}
}

// NormalizeU8 converts uint8 samples to float32 applying (v - mean) * scale
func NormalizeU8(src []uint8, dst []float32, mean, scale float32) {
	for i, v := range src {
		dst[i] = (float32(v) - mean) * scale
	}
}

// DropAlpha copies a packed 4-channel plane into a packed 3-channel plane,
// optionally swapping the first and third channel
func DropAlpha(src, dst []uint8, height, width, srcStride, dstStride int, swapRB bool) {
	for y := 0; y < height; y++ {
		srow := src[y*srcStride:]
		drow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			if swapRB {
				drow[x*3] = srow[x*4+2]
				drow[x*3+1] = srow[x*4+1]
				drow[x*3+2] = srow[x*4]
			} else {
				drow[x*3] = srow[x*4]
				drow[x*3+1] = srow[x*4+1]
				drow[x*3+2] = srow[x*4+2]
			}
		}
	}
}

// AddAlpha copies a packed 3-channel plane into a packed 4-channel plane
// with opaque alpha, optionally swapping the first and third channel
func AddAlpha(src, dst []uint8, height, width, srcStride, dstStride int, swapRB bool) {
	for y := 0; y < height; y++ {
		srow := src[y*srcStride:]
		drow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			if swapRB {
				drow[x*4] = srow[x*3+2]
				drow[x*4+1] = srow[x*3+1]
				drow[x*4+2] = srow[x*3]
			} else {
				drow[x*4] = srow[x*3]
				drow[x*4+1] = srow[x*3+1]
				drow[x*4+2] = srow[x*3+2]
			}
			drow[x*4+3] = 255
		}
	}
}
