package ml

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/utils"
)

// FrameChannels is the channel depth of a camera tensor (RGB).
const FrameChannels = 3

// FrameSize is the byte size of a width x height RGB frame.
func FrameSize(width, height int) int {
	return width * height * FrameChannels
}

// NewFrameTensor wraps an RGB byte buffer as a [height, width, 3] uint8 tensor without copying.
func NewFrameTensor(buf []uint8, width, height int) (*tensor.Dense, error) {
	if len(buf) != FrameSize(width, height) {
		return nil, errors.Errorf("frame buffer has %d bytes, expected %d for %dx%d", len(buf), FrameSize(width, height), width, height)
	}
	return tensor.New(tensor.WithShape(height, width, FrameChannels), tensor.WithBacking(buf)), nil
}

// FrameDims returns the width and height of a [height, width, 3] frame tensor.
func FrameDims(t *tensor.Dense) (int, int, error) {
	shape := t.Shape()
	if len(shape) != 3 || shape[2] != FrameChannels {
		return 0, 0, utils.NewUnexpectedShapeError("frame", []int{-1, -1, FrameChannels}, shape)
	}
	return shape[1], shape[0], nil
}

// ImageInto resizes img to width x height and writes its RGB pixels into buf, which must be
// FrameSize(width, height) bytes long.
func ImageInto(buf []uint8, img image.Image, width, height int) error {
	if len(buf) != FrameSize(width, height) {
		return errors.Errorf("frame buffer has %d bytes, expected %d", len(buf), FrameSize(width, height))
	}
	bounds := img.Bounds()
	var nrgba *image.NRGBA
	if bounds.Dx() != width || bounds.Dy() != height {
		nrgba = imaging.Resize(img, width, height, imaging.Linear)
	} else {
		nrgba = imaging.Clone(img)
	}
	for y := 0; y < height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
		for x := 0; x < width; x++ {
			dst := (y*width + x) * FrameChannels
			buf[dst] = row[x*4]
			buf[dst+1] = row[x*4+1]
			buf[dst+2] = row[x*4+2]
		}
	}
	return nil
}

// ImageToTensor resizes img to width x height and returns it as a new frame tensor.
func ImageToTensor(img image.Image, width, height int) (*tensor.Dense, error) {
	buf := make([]uint8, FrameSize(width, height))
	if err := ImageInto(buf, img, width, height); err != nil {
		return nil, err
	}
	return NewFrameTensor(buf, width, height)
}

// TensorToImage converts a uint8 frame tensor back to an image.
func TensorToImage(t *tensor.Dense) (*image.NRGBA, error) {
	width, height, err := FrameDims(t)
	if err != nil {
		return nil, err
	}
	data, err := utils.DataAs[[]uint8](t)
	if err != nil {
		return nil, errors.Wrap(err, "frame tensor must be uint8")
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := (y*width + x) * FrameChannels
			img.SetNRGBA(x, y, color.NRGBA{data[src], data[src+1], data[src+2], 255})
		}
	}
	return img, nil
}
