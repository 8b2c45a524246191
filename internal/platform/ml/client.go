package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/platform/config"
)

// The OCR, classifier and predictor models run behind model-serving
// endpoints that speak JSON. Byte fields travel base64 encoded.

func postJSON(ctx context.Context, client *http.Client, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type OCRClient struct {
	url  string
	http *http.Client
}

func NewOCRClient(cfg config.MLConfig) *OCRClient {
	return &OCRClient{url: cfg.OCRURL, http: newHTTPClient(cfg.Timeout)}
}

type ocrRequest struct {
	Image     []byte `json:"image"`
	Extension string `json:"extension"`
}

type ocrResponse struct {
	Preprocessed          []byte `json:"preprocessed"`
	PreprocessedExtension string `json:"preprocessed_extension"`
	Boxes                 []struct {
		Box       [4]int `json:"box"` // x1, y1, x2, y2
		Text      string `json:"text"`
		Image     []byte `json:"image"`
		Extension string `json:"extension"`
	} `json:"boxes"`
}

func (c *OCRClient) Analyze(ctx context.Context, image []byte, extension string) (*model.OCRAnalysis, error) {
	var resp ocrResponse
	if err := postJSON(ctx, c.http, c.url, ocrRequest{Image: image, Extension: extension}, &resp); err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}

	analysis := &model.OCRAnalysis{
		Preprocessed:          resp.Preprocessed,
		PreprocessedExtension: resp.PreprocessedExtension,
	}
	if analysis.PreprocessedExtension == "" {
		analysis.PreprocessedExtension = extension
	}
	for _, b := range resp.Boxes {
		analysis.Boxes = append(analysis.Boxes, model.DetectedBox{
			X1: b.Box[0], Y1: b.Box[1], X2: b.Box[2], Y2: b.Box[3],
			Text:      b.Text,
			Image:     b.Image,
			Extension: b.Extension,
		})
	}
	return analysis, nil
}

type ClassifierClient struct {
	url  string
	http *http.Client
}

func NewClassifierClient(cfg config.MLConfig) *ClassifierClient {
	return &ClassifierClient{url: cfg.ClassifierURL, http: newHTTPClient(cfg.Timeout)}
}

// Classify returns the raw label, e.g. "MATH".
func (c *ClassifierClient) Classify(ctx context.Context, text string) (string, error) {
	var resp struct {
		Labels []string `json:"labels"`
	}
	if err := postJSON(ctx, c.http, c.url, map[string][]string{"texts": {text}}, &resp); err != nil {
		return "", fmt.Errorf("classifier: %w", err)
	}
	if len(resp.Labels) == 0 {
		return "", nil
	}
	return resp.Labels[0], nil
}

type PredictorClient struct {
	url  string
	http *http.Client
}

type predictRequest struct {
	Texts    []string `json:"texts"`
	MinProba float64  `json:"min_proba"`
	MaxTags  int      `json:"max_tags,omitempty"` // 0 means unlimited
}

// Predict returns the tags above minProba, most likely first.
func (c *PredictorClient) Predict(ctx context.Context, text string, minProba float64, maxTags int) ([]model.TagPrediction, error) {
	var resp struct {
		Predictions [][]model.TagPrediction `json:"predictions"`
	}
	req := predictRequest{Texts: []string{text}, MinProba: minProba, MaxTags: maxTags}
	if err := postJSON(ctx, c.http, c.url, req, &resp); err != nil {
		return nil, fmt.Errorf("predictor: %w", err)
	}
	if len(resp.Predictions) == 0 {
		return nil, nil
	}
	return resp.Predictions[0], nil
}

// Predictors maps a subject name to its tag predictor.
type Predictors map[string]*PredictorClient

func NewPredictors(cfg config.MLConfig) Predictors {
	client := newHTTPClient(cfg.Timeout)
	p := make(Predictors, len(cfg.PredictorURLs))
	for subject, url := range cfg.PredictorURLs {
		p[subject] = &PredictorClient{url: url, http: client}
	}
	return p
}
