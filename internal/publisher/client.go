// Package publisher pushes queued videos to the platform's graph API.
// Failures are classified so the pipeline can tell a retryable hiccup
// from a dead post.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/repost-agent/internal/config"
	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/pkg/logger"
	"github.com/repost-agent/pkg/ratelimit"
)

const (
	defaultBaseURL = "https://graph.facebook.com/v19.0"

	containerPollInterval = 3 * time.Second
	containerPollTimeout  = 2 * time.Minute
)

var (
	// ErrRecoverable marks a failure worth retrying later (rate limits,
	// server errors, network trouble).
	ErrRecoverable = errors.New("recoverable publish failure")
	// ErrPermanent marks a failure that will not go away by retrying
	// (bad media, policy rejection, revoked token).
	ErrPermanent = errors.New("permanent publish failure")
	// ErrPublishedUnverified means the platform accepted the post but
	// the post id could not be read back. The post is live; retrying
	// would duplicate it.
	ErrPublishedUnverified = errors.New("published but post id unverified")
)

// Client publishes to the graph API on behalf of one account.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accountID   string
	tokenSource oauth2.TokenSource
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewClient creates a publisher client from static credentials.
func NewClient(cfg config.PublisherConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     baseURL,
		accountID:   cfg.AccountID,
		tokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken}),
		rateLimiter: limiter,
		log:         log.WithComponent("publisher"),
	}
}

// Publish uploads the entry's video and returns the platform post id.
// The returned error wraps ErrRecoverable, ErrPermanent or
// ErrPublishedUnverified so callers can classify the outcome.
func (c *Client) Publish(ctx context.Context, entry *models.QueuedContent) (string, error) {
	caption := BuildCaption(entry.Caption, entry.Hashtags, entry.OriginalAuthor)

	containerID, err := c.createContainer(ctx, entry.URL, caption)
	if err != nil {
		return "", fmt.Errorf("create container for %s: %w", entry.OriginalShortcode, err)
	}

	if err := c.waitForContainer(ctx, containerID); err != nil {
		return "", fmt.Errorf("container %s for %s: %w", containerID, entry.OriginalShortcode, err)
	}

	postID, err := c.publishContainer(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("publish container %s for %s: %w", containerID, entry.OriginalShortcode, err)
	}

	c.log.Info().
		Str("shortcode", entry.OriginalShortcode).
		Str("post_id", postID).
		Msg("Post published")
	return postID, nil
}

// createContainer registers the video for processing and returns the
// container id.
func (c *Client) createContainer(ctx context.Context, videoURL, caption string) (string, error) {
	params := url.Values{
		"media_type": {"REELS"},
		"video_url":  {videoURL},
		"caption":    {caption},
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "POST", fmt.Sprintf("/%s/media", c.accountID), params, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: empty container id", ErrPermanent)
	}
	return result.ID, nil
}

// waitForContainer polls the container until the platform finishes
// ingesting the video.
func (c *Client) waitForContainer(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(containerPollTimeout)
	ticker := time.NewTicker(containerPollInterval)
	defer ticker.Stop()

	for {
		var status struct {
			StatusCode string `json:"status_code"`
		}
		params := url.Values{"fields": {"status_code"}}
		if err := c.do(ctx, "GET", "/"+containerID, params, &status); err != nil {
			return err
		}

		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("%w: container status %s", ErrPermanent, status.StatusCode)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: container not ready after %s", ErrRecoverable, containerPollTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRecoverable, ctx.Err())
		case <-ticker.C:
		}
	}
}

// publishContainer flips the processed container live.
func (c *Client) publishContainer(ctx context.Context, containerID string) (string, error) {
	params := url.Values{"creation_id": {containerID}}
	var result struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "POST", fmt.Sprintf("/%s/media_publish", c.accountID), params, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		// The publish call went through; only the readback is missing.
		return "", ErrPublishedUnverified
	}
	return result.ID, nil
}

// do performs one API request and decodes the JSON response into out.
// HTTP and transport errors are classified onto the sentinel errors.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterPublish); err != nil {
		return fmt.Errorf("%w: rate limit: %v", ErrRecoverable, err)
	}

	token, err := c.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("%w: token: %v", ErrPermanent, err)
	}
	params.Set("access_token", token.AccessToken)

	var req *http.Request
	if method == "GET" {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Msg("Graph API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecoverable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	c.log.Debug().
		Int("status", resp.StatusCode).
		Msg("Graph API response")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s", classifyStatus(resp.StatusCode), resp.Status, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrRecoverable, err)
		}
	}
	return nil
}

// classifyStatus maps an HTTP status to the retry class. Rate limits
// and server-side errors are worth retrying, the rest is not.
func classifyStatus(status int) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return ErrRecoverable
	}
	return ErrPermanent
}
