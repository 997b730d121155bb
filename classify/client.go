package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
)

const (
	detectPath = "/detect"
	healthPath = "/health"

	maxResponseBytes = 4 << 20
	healthTimeout    = 5 * time.Second
)

var (
	// ErrDetectorUnavailable means the detector could not be reached at all; nothing was claimed.
	ErrDetectorUnavailable = errors.New("detector unavailable")
	// ErrBadResponse means the detector answered with a shape we do not understand.
	ErrBadResponse = errors.New("unexpected detector response")
)

// RawDetection is one region as reported by the detector, label already normalized.
type RawDetection struct {
	Label string
	Score float64
	Box   *media.Box
}

// Client talks to the NudeNet-style detector over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Health probes the detector's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health status=%d", ErrDetectorUnavailable, resp.StatusCode)
	}
	return nil
}

// Detect uploads one image as the multipart field "file" and parses the regions found.
func (c *Client) Detect(ctx context.Context, filename string, data []byte) ([]RawDetection, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+detectPath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read detector response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("detector response status=%d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return ParseResponse(respBody)
}

// ParseResponse accepts {"prediction": [...]} or a bare array, optionally nested one level
// (one list per image). Each element needs label (or class) and score; box is optional.
func ParseResponse(body []byte) ([]RawDetection, error) {
	var list []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		var wrapper struct {
			Prediction *[]json.RawMessage `json:"prediction"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if wrapper.Prediction == nil {
			return nil, fmt.Errorf("%w: object without prediction", ErrBadResponse)
		}
		list = *wrapper.Prediction
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	default:
		return nil, fmt.Errorf("%w: %.80s", ErrBadResponse, trimmed)
	}

	out := []RawDetection{}
	for _, raw := range list {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			var nested []json.RawMessage
			if err := json.Unmarshal(raw, &nested); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
			}
			for _, n := range nested {
				d, err := parseDetection(n)
				if err != nil {
					return nil, err
				}
				out = append(out, d)
			}
			continue
		}
		d, err := parseDetection(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

type wireDetection struct {
	Label *string   `json:"label"`
	Class *string   `json:"class"`
	Score *float64  `json:"score"`
	Box   []float64 `json:"box"`
}

func parseDetection(raw json.RawMessage) (RawDetection, error) {
	var w wireDetection
	if err := json.Unmarshal(raw, &w); err != nil {
		return RawDetection{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	label := ""
	if w.Label != nil {
		label = *w.Label
	} else if w.Class != nil {
		label = *w.Class
	}
	label = NormalizeLabel(label)
	if label == "" || w.Score == nil {
		return RawDetection{}, fmt.Errorf("%w: detection without label or score: %s", ErrBadResponse, raw)
	}
	d := RawDetection{Label: label, Score: clampScore(*w.Score)}
	if len(w.Box) == 4 {
		d.Box = NormalizeBox(w.Box)
	}
	return d, nil
}

// NormalizeBox reads [x1,y1,x2,y2], or [x,y,w,h] when the second corner does not lie past
// the first. Degenerate boxes yield nil.
func NormalizeBox(v []float64) *media.Box {
	x1, y1, a, b := int(v[0]+0.5), int(v[1]+0.5), int(v[2]+0.5), int(v[3]+0.5)
	x2, y2 := a, b
	if a <= x1 || b <= y1 {
		x2, y2 = x1+a, y1+b
	}
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 <= x1 || y2 <= y1 {
		return nil
	}
	return &media.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
