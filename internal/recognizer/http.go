package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultField is the multipart field the analysis service reads.
const DefaultField = "audio"

// HTTPRecognizer posts each chunk as a multipart upload to an analysis
// service and reads back {"chord": ..., "confidence": ...}.
type HTTPRecognizer struct {
	URL      string
	Field    string
	FileName string
	Client   *http.Client
}

// NewHTTP creates a recognizer for the service at url.
func NewHTTP(url string) *HTTPRecognizer {
	return &HTTPRecognizer{
		URL:      url,
		Field:    DefaultField,
		FileName: "chunk.wav",
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type predictResponse struct {
	Chord      *string `json:"chord"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

// Recognize implements Recognizer.
func (h *HTTPRecognizer) Recognize(ctx context.Context, payload []byte) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(h.Field, h.FileName)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var pr predictResponse
	_ = json.Unmarshal(data, &pr)

	if resp.StatusCode >= 400 {
		msg := pr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		if resp.StatusCode < 500 {
			return Result{}, fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, msg)
		}
		return Result{}, fmt.Errorf("predict: %s: %s", resp.Status, msg)
	}
	if err := json.Unmarshal(data, &pr); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	res := Result{Confidence: pr.Confidence}
	if pr.Chord != nil {
		res.Chord = strings.TrimSpace(*pr.Chord)
	}
	return res, nil
}

// Ping checks that the service answers at all. Any status below 500
// counts as reachable since the endpoint only accepts uploads.
func (h *HTTPRecognizer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("recognizer unhealthy: %s", resp.Status)
	}
	return nil
}
