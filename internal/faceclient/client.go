package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"presence/internal/biometric"
)

// Client calls the face recognition microservice for subject detection and
// embeddings. With Skip set it answers locally: the whole frame is the
// subject and embeddings come from a coarse grid descriptor.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool

	fallbackDetector biometric.WholeImage
	fallbackEmbedder biometric.GridEmbedder
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
		fallbackEmbedder: biometric.GridEmbedder{Cells: 8},
	}
}

// Detect returns the bounding boxes of every face in the sample.
func (c *Client) Detect(ctx context.Context, sample biometric.Sample) ([]image.Rectangle, error) {
	if c.Skip {
		return c.fallbackDetector.Detect(ctx, sample)
	}

	var out struct {
		Boxes [][4]float64 `json:"boxes"`
	}
	payload := map[string]string{"image": base64.StdEncoding.EncodeToString(sample)}
	if err := c.post(ctx, "/detect", payload, &out); err != nil {
		return nil, err
	}

	boxes := make([]image.Rectangle, 0, len(out.Boxes))
	for _, b := range out.Boxes {
		boxes = append(boxes, image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3])))
	}
	return boxes, nil
}

// Embed requests an embedding for an already-cropped canonical face.
func (c *Client) Embed(ctx context.Context, face *image.Gray) ([]float32, error) {
	if c.Skip {
		return c.fallbackEmbedder.Embed(ctx, face)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, face); err != nil {
		return nil, fmt.Errorf("encode face: %w", err)
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	payload := map[string]string{"image": base64.StdEncoding.EncodeToString(buf.Bytes())}
	if err := c.post(ctx, "/embed", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: face service returned no embedding", biometric.ErrNoSubjectDetected)
	}
	return out.Embedding, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: face service: %w", biometric.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: face service unhealthy: %s", biometric.ErrUnavailable, resp.Status)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: face service request failed: %w", biometric.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The service answers 422 for images it cannot decode.
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s", biometric.ErrMalformedSample, string(bodyBytes))
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: face service error %s: %s", biometric.ErrUnavailable, resp.Status, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", biometric.ErrUnavailable, err)
	}
	return nil
}
