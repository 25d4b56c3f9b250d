package types

import "time"

// Frame is one encoded camera capture (JPEG or PNG bytes)
type Frame struct {
	Data      []byte
	Timestamp time.Time
	FrameNum  uint64
	Width     int // 0 when unknown until decoded
	Height    int
}

// ImageTensor is a preprocessed model input in HWC order, values in [0,1]
type ImageTensor struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// Len returns the number of values the tensor dimensions describe
func (t ImageTensor) Len() int {
	return t.Width * t.Height * t.Channels
}
