package ai

import (
	"context"
	"errors"
	"log"

	"github.com/zhouzirui/z-chat/backend/internal/retry"
)

// ErrImagesUnavailable is returned when no image backend is configured.
var ErrImagesUnavailable = errors.New("image generation is not configured")

// Client wraps the configured backends with retry and error classification.
// A nil *Client means no model integration is configured.
type Client struct {
	gen    Generator
	images ImageGenerator
	policy retry.Policy
}

// NewClient builds a client; images may be nil.
func NewClient(gen Generator, images ImageGenerator, policy retry.Policy) *Client {
	return &Client{gen: gen, images: images, policy: policy}
}

// DefaultModel returns the model used when a request does not name one.
func (c *Client) DefaultModel() string {
	return c.gen.DefaultModel()
}

// SupportsImages reports whether an image backend is wired.
func (c *Client) SupportsImages() bool {
	return c != nil && c.images != nil
}

// Complete runs one completion with retries. Failures are returned already
// classified for the client.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	if req.Model == "" {
		req.Model = c.gen.DefaultModel()
	}

	resp, err := retry.Do(ctx, c.policy, func(ctx context.Context) (Completion, error) {
		return c.gen.Generate(ctx, req)
	})
	if err != nil {
		return Completion{}, Surface(err)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}

	log.Printf("[ai] completion model=%s tokens=%d length=%d", resp.Model, resp.TotalTokens, len(resp.Content))
	return resp, nil
}

// Image generates one image with retries and returns its URL.
func (c *Client) Image(ctx context.Context, req ImageRequest) (string, error) {
	if !c.SupportsImages() {
		return "", Surface(ErrImagesUnavailable)
	}

	url, err := retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.images.GenerateImage(ctx, req)
	})
	if err != nil {
		return "", Surface(err)
	}
	return url, nil
}
