// Package faceenc turns a photo into a face encoding.
package faceenc

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/missing-persons/internal/config"
)

// ErrNoFace is returned when the image contains no detectable face.
var ErrNoFace = errors.New("no face detected")

// Encoder computes the encoding of the most prominent face in a JPEG image.
type Encoder interface {
	Encode(ctx context.Context, jpegData []byte) ([]float32, error)
	// Name identifies the encoder; encodings of different encoders are not comparable.
	Name() string
}

// New builds the encoder selected by the configuration.
func New(cfg *config.FaceConfig) (Encoder, error) {
	switch cfg.Encoder {
	case "remote":
		return NewRemoteEncoder(cfg.URL), nil
	case "dlib":
		return NewDlibEncoder(cfg.ModelsDir)
	default:
		return nil, fmt.Errorf("unknown face encoder %q", cfg.Encoder)
	}
}
