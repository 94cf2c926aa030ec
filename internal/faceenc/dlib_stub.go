//go:build !dlib

package faceenc

import "errors"

// NewDlibEncoder reports that the binary was built without dlib support.
func NewDlibEncoder(modelsDir string) (Encoder, error) {
	return nil, errors.New("dlib encoder not available: rebuild with -tags dlib")
}
