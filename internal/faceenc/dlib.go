//go:build dlib

package faceenc

import (
	"context"
	"fmt"
	"sync"

	face "github.com/Kagami/go-face"
)

// DlibEncoder runs dlib's ResNet face model in-process. It produces the same
// 128-dimensional descriptors as the face_recognition Python package.
type DlibEncoder struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// NewDlibEncoder loads the dlib models from modelsDir.
func NewDlibEncoder(modelsDir string) (Encoder, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load recognizer from %s: %w", modelsDir, err)
	}
	return &DlibEncoder{rec: rec}, nil
}

// Name returns the encoder name
func (e *DlibEncoder) Name() string {
	return "dlib"
}

// Encode returns the descriptor of the largest face in the image.
func (e *DlibEncoder) Encode(ctx context.Context, jpegData []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The recognizer is not safe for concurrent use.
	e.mu.Lock()
	faces, err := e.rec.Recognize(jpegData)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if area(f) > area(best) {
			best = f
		}
	}

	enc := make([]float32, len(best.Descriptor))
	copy(enc, best.Descriptor[:])
	return enc, nil
}

func area(f face.Face) int {
	return f.Rectangle.Dx() * f.Rectangle.Dy()
}

// Close releases the dlib models.
func (e *DlibEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Close()
	return nil
}
