// Package entitlement is the app-side view of a paid grant: a small cached
// record of {type, expiry} plus the signed token, revalidated against the
// access service. The cache only avoids redundant recovery calls; the
// service remains the source of truth.
package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmarchant/reverie/internal/enttoken"
	"github.com/jmarchant/reverie/internal/model"
)

// Config holds entitlement revalidation configuration.
type Config struct {
	// Code or Email identifies the grant to revalidate. At most one is set.
	Code  string
	Email string

	RecoverURL    string
	TokenSecret   string
	CheckInterval time.Duration
	GracePeriod   time.Duration
}

// Status represents the current cached entitlement.
type Status struct {
	Valid       bool            `json:"valid"`
	Type        model.GrantType `json:"type"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	Warning     string          `json:"warning"`
	LastChecked time.Time       `json:"last_checked"`
	Offline     bool            `json:"offline"`
}

type recoverRequest struct {
	Code  string `json:"code,omitempty"`
	Email string `json:"email,omitempty"`
}

type recoverResponse struct {
	Type      model.GrantType `json:"type"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Token     string          `json:"token,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Client keeps a local entitlement cache fresh against the access service.
type Client struct {
	mu         sync.RWMutex
	cfg        Config
	status     Status
	signer     *enttoken.Signer
	httpClient *http.Client
	stopCh     chan struct{}
	stopped    chan struct{}
}

// NewClient creates a new entitlement client. With neither code nor email
// configured the app runs in free-tier mode.
func NewClient(cfg Config) *Client {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 24 * time.Hour
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 3 * 24 * time.Hour
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if cfg.TokenSecret != "" {
		c.signer = enttoken.NewSigner(cfg.TokenSecret)
	}
	return c
}

// Restore seeds the cache from a previously saved token without a network
// call. Invalid or expired tokens are ignored; the next Validate sorts it
// out.
func (c *Client) Restore(token string) {
	if c.signer == nil || token == "" {
		return
	}
	claims, err := c.signer.Parse(token)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Valid = true
	c.status.Type = claims.Type
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		c.status.ExpiresAt = &t
	}
}

// Validate revalidates the entitlement against the access service.
func (c *Client) Validate(ctx context.Context) error {
	c.mu.RLock()
	req := recoverRequest{Code: c.cfg.Code, Email: c.cfg.Email}
	url := c.cfg.RecoverURL
	c.mu.RUnlock()

	if req.Code == "" && req.Email == "" {
		c.mu.Lock()
		c.status = Status{Valid: false, LastChecked: time.Now()}
		c.mu.Unlock()
		return nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network error: enter offline mode, keep existing status.
		c.mu.Lock()
		c.status.Offline = true
		c.status.Warning = "Unable to reach access service"
		c.mu.Unlock()
		return fmt.Errorf("recover request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound, http.StatusGone:
	default:
		c.mu.Lock()
		c.status.Offline = true
		c.status.Warning = fmt.Sprintf("Access service returned %d", resp.StatusCode)
		c.mu.Unlock()
		return fmt.Errorf("recover: status %d", resp.StatusCode)
	}

	var rr recoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	c.mu.Lock()
	c.status = Status{
		Valid:       resp.StatusCode == http.StatusOK,
		Type:        rr.Type,
		ExpiresAt:   rr.ExpiresAt,
		LastChecked: time.Now(),
	}
	if !c.status.Valid && rr.Error != "" {
		c.status.Warning = "Access " + rr.Error
	}
	c.mu.Unlock()

	return nil
}

// HasAccess reports whether paid access is currently available, honoring
// the offline grace period.
func (c *Client) HasAccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.status.ExpiresAt != nil && time.Now().After(*c.status.ExpiresAt) {
		return false
	}
	if !c.status.Valid {
		return false
	}
	if c.status.Offline && !c.status.LastChecked.IsZero() &&
		time.Since(c.status.LastChecked) > c.cfg.GracePeriod {
		return false
	}
	return true
}

// Status returns the current cached entitlement status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Start begins the background revalidation goroutine.
func (c *Client) Start(ctx context.Context) {
	c.Validate(ctx)

	go func() {
		defer close(c.stopped)
		ticker := time.NewTicker(c.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Validate(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background revalidation goroutine.
func (c *Client) Stop() {
	close(c.stopCh)
	<-c.stopped
}
