// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package safety scores uploaded images with an external vision model.
package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"codeberg.org/capsera/capsera/internal/config"
)

var (
	ErrImageURLRequired = errors.New("image URL is required")
	ErrUnavailable      = errors.New("content safety service unavailable")
)

// Scores maps a category such as "adult" or "violence" to a probability in [0, 1].
type Scores map[string]float64

// Verdict is the outcome of Evaluate.
type Verdict struct {
	Blocked bool     `json:"blocked"`
	Flagged []string `json:"flagged,omitempty"`
	Scores  Scores   `json:"scores"`
}

// Evaluate blocks when any category reaches threshold. Flagged lists those
// categories in name order.
func Evaluate(scores Scores, threshold float64) Verdict {
	var flagged []string
	for category, score := range scores {
		if score >= threshold {
			flagged = append(flagged, category)
		}
	}
	sort.Strings(flagged)
	return Verdict{Blocked: len(flagged) > 0, Flagged: flagged, Scores: scores}
}

// Client calls the vision-safety endpoint.
type Client struct {
	endpoint  string
	apiKey    string
	threshold float64
	http      *http.Client
}

func NewClient(cfg config.SafetyConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		threshold: threshold,
		http:      &http.Client{Timeout: timeout},
	}
}

type checkRequest struct {
	ImageURL string `json:"imageUrl"`
}

type checkResponse struct {
	Scores Scores `json:"scores"`
}

// Scores fetches the category scores for imageURL.
func (c *Client) Scores(ctx context.Context, imageURL string) (Scores, error) {
	if imageURL == "" {
		return nil, ErrImageURLRequired
	}
	payload, err := json.Marshal(checkRequest{ImageURL: imageURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build safety request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(body))
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %w", ErrUnavailable, err)
	}
	return out.Scores, nil
}

// Check scores imageURL and evaluates it against the configured threshold.
// Blocked images are logged as reports.
func (c *Client) Check(ctx context.Context, imageURL string) (*Verdict, error) {
	scores, err := c.Scores(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	verdict := Evaluate(scores, c.threshold)
	if verdict.Blocked {
		slog.Warn("upload flagged", "image_url", imageURL, "categories", verdict.Flagged)
	}
	return &verdict, nil
}
