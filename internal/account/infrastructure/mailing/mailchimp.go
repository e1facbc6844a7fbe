package mailing

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds Mailchimp settings. The datacenter is derived from the API key
// suffix the way Mailchimp keys encode it.
type Config struct {
	APIKey string
	ListID string
}

// Client talks to the Mailchimp marketing API. Members are addressed by the
// MD5 hash of the lowercased email, which makes subscribe idempotent.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new Mailchimp client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	datacenter := "us1"
	if i := strings.LastIndex(cfg.APIKey, "-"); i >= 0 && i < len(cfg.APIKey)-1 {
		datacenter = cfg.APIKey[i+1:]
	}
	return &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("https://%s.api.mailchimp.com/3.0", datacenter),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Enabled reports whether the client is configured to talk to Mailchimp.
func (c *Client) Enabled() bool {
	return c.cfg.APIKey != "" && c.cfg.ListID != ""
}

func memberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// Subscribe adds or re-activates the address on the list.
func (c *Client) Subscribe(ctx context.Context, email string) error {
	return c.putMember(ctx, memberHash(email), map[string]any{
		"email_address": email,
		"status_if_new": "subscribed",
		"status":        "subscribed",
	})
}

// Unsubscribe flips the member to unsubscribed. The member record stays so
// Mailchimp honors the opt-out on future imports.
func (c *Client) Unsubscribe(ctx context.Context, email string) error {
	return c.putMember(ctx, memberHash(email), map[string]any{
		"email_address": email,
		"status_if_new": "unsubscribed",
		"status":        "unsubscribed",
	})
}

// UpdateEmail moves the membership from the old address to the new one.
func (c *Client) UpdateEmail(ctx context.Context, oldEmail, newEmail string) error {
	return c.putMember(ctx, memberHash(oldEmail), map[string]any{
		"email_address": newEmail,
		"status_if_new": "subscribed",
	})
}

func (c *Client) putMember(ctx context.Context, hash string, body map[string]any) error {
	if !c.Enabled() {
		c.logger.Debug("mailing list sync skipped, mailchimp not configured")
		return nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding member payload: %w", err)
	}

	url := fmt.Sprintf("%s/lists/%s/members/%s", c.baseURL, c.cfg.ListID, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building member request: %w", err)
	}
	req.SetBasicAuth("anystring", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling mailchimp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("mailchimp returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
