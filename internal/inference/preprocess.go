package inference

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

// Decode parses an encoded frame (JPEG or PNG)
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", types.ErrInvalidInput, err)
	}
	return img, nil
}

// ToTensor resizes img to width x height with bilinear filtering and packs
// it as HWC RGB float32 scaled to [0,1]
func ToTensor(img image.Image, width, height int) (types.ImageTensor, error) {
	if width <= 0 || height <= 0 {
		return types.ImageTensor{}, fmt.Errorf("%w: tensor size %dx%d", types.ErrInvalidInput, width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, 0, width*height*3)
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+width*4]
		for x := 0; x < width; x++ {
			p := row[x*4 : x*4+3]
			data = append(data, float32(p[0])/255, float32(p[1])/255, float32(p[2])/255)
		}
	}
	return types.ImageTensor{Width: width, Height: height, Channels: 3, Data: data}, nil
}

// Inputs holds the tensors of one frame for both models
type Inputs struct {
	Detector types.ImageTensor
	Depth    types.ImageTensor
	// source image size, used to map detections back to pixels
	ImageWidth  int
	ImageHeight int
}

// TensorSize is a model input size
type TensorSize struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Preprocess decodes a frame once and builds the tensors each model needs.
// A zero detector size skips the detector tensor (proximity-only mode).
func Preprocess(frame []byte, detector, depth TensorSize) (Inputs, error) {
	img, err := Decode(frame)
	if err != nil {
		return Inputs{}, err
	}
	b := img.Bounds()
	in := Inputs{ImageWidth: b.Dx(), ImageHeight: b.Dy()}

	if detector.Width > 0 {
		if in.Detector, err = ToTensor(img, detector.Width, detector.Height); err != nil {
			return Inputs{}, err
		}
	}
	if in.Depth, err = ToTensor(img, depth.Width, depth.Height); err != nil {
		return Inputs{}, err
	}
	return in, nil
}
