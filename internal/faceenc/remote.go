package faceenc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"
	"time"
)

const defaultEncoderURL = "http://localhost:8000"

// RemoteEncoder computes face encodings using the embedding server's
// /embed/face endpoint.
type RemoteEncoder struct {
	baseURL string
	client  *http.Client
	model   atomic.Pointer[string] // last model the server reported
}

// NewRemoteEncoder creates a new remote encoder
func NewRemoteEncoder(baseURL string) *RemoteEncoder {
	if baseURL == "" {
		baseURL = defaultEncoderURL
	}
	return &RemoteEncoder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Name returns "remote" until the server has answered once, then
// "remote:<model>" so encodings from different models are told apart.
func (e *RemoteEncoder) Name() string {
	if model := e.model.Load(); model != nil {
		return "remote:" + *model
	}
	return "remote"
}

// Encode returns the embedding of the face with the highest detection score.
func (e *RemoteEncoder) Encode(ctx context.Context, jpegData []byte) ([]float32, error) {
	body, err := e.postImage(ctx, "/embed/face", jpegData)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Model != "" {
		model := resp.Model
		e.model.Store(&model)
	}

	var best *faceDetection
	for i := range resp.Faces {
		f := &resp.Faces[i]
		if len(f.Embedding) == 0 {
			continue
		}
		if best == nil || f.DetScore > best.DetScore {
			best = f
		}
	}
	if best == nil {
		return nil, ErrNoFace
	}
	return best.Embedding, nil
}

// postImage posts the image as a multipart form to the given endpoint.
func (e *RemoteEncoder) postImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
