package fusion

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// UnknownClass is reported for class ids outside the label table
const UnknownClass = "Unknown"

// Labels maps detector class ids to names
type Labels []string

// Name never fails; ids outside the table resolve to UnknownClass
func (l Labels) Name(classID int) string {
	if classID < 0 || classID >= len(l) {
		return UnknownClass
	}
	return l[classID]
}

// ReadLabels reads one class name per line (coco.names format)
func ReadLabels(r io.Reader) (Labels, error) {
	var labels Labels
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	// trailing blank lines are not classes
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	return labels, nil
}

// LoadLabels reads a label file, or returns COCOLabels when path is empty
func LoadLabels(path string) (Labels, error) {
	if path == "" {
		return COCOLabels, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()
	return ReadLabels(f)
}

// COCOLabels is the 80-class COCO table used by stock YOLOv5 exports
var COCOLabels = Labels{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}
