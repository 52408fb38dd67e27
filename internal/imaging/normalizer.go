// Package imaging turns uploaded scan bytes into the tensor shape the
// diagnostic model was trained on.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"  // imported to register decoder
	_ "image/jpeg" // imported to register decoder
	_ "image/png"  // imported to register decoder

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // imported to register decoder
	_ "golang.org/x/image/tiff" // imported to register decoder
	_ "golang.org/x/image/webp" // imported to register decoder
)

const (
	// TargetSize is the square edge length the scorer expects.
	TargetSize = 224
	// Channels is the number of color channels after RGB conversion.
	Channels = 3
)

// ErrUndecodable indicates the payload is not a supported image encoding.
var ErrUndecodable = errors.New("imaging: undecodable image data")

// Tensor is a batched image tensor shaped [batch][height][width][channel],
// with channel values scaled into [0, 1]. It marshals directly into the
// nested-array form the model server's predict API consumes.
type Tensor [][][][]float32

// Shape returns the tensor dimensions as [batch, height, width, channels].
func (t Tensor) Shape() [4]int {
	shape := [4]int{len(t)}
	if len(t) > 0 {
		shape[1] = len(t[0])
		if len(t[0]) > 0 {
			shape[2] = len(t[0][0])
			if len(t[0][0]) > 0 {
				shape[3] = len(t[0][0][0])
			}
		}
	}
	return shape
}

// Normalize decodes raw upload bytes into the scorer's expected input: a
// single-image batch of 224x224 RGB values scaled to [0, 1]. Inputs of any
// resolution are resampled to the target size without preserving aspect
// ratio; the model was trained on stretched inputs.
func Normalize(raw []byte) (Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	// Resampling onto an RGBA canvas also folds grayscale, palette, and
	// alpha inputs down to plain RGB.
	dst := image.NewRGBA(image.Rect(0, 0, TargetSize, TargetSize))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	rows := make([][][]float32, TargetSize)
	for y := 0; y < TargetSize; y++ {
		row := make([][]float32, TargetSize)
		for x := 0; x < TargetSize; x++ {
			px := dst.RGBAAt(x, y)
			row[x] = []float32{
				float32(px.R) / 255.0,
				float32(px.G) / 255.0,
				float32(px.B) / 255.0,
			}
		}
		rows[y] = row
	}
	return Tensor{rows}, nil
}
