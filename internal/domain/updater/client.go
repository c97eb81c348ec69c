package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/gantry/internal/domain/registry"
)

// Client errors.
var (
	ErrFetchFailed  = errors.New("fetch failed")
	ErrNetworkError = errors.New("network error")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
	ErrServerError  = errors.New("server error")
	ErrHashMismatch = errors.New("package hash mismatch")
)

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// UserAgent is the User-Agent header value
	UserAgent string
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:   30 * time.Second,
		UserAgent: "gantry/1.0",
	}
}

// Client provides HTTP access to extension galleries.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new gallery client.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// CheckURL builds the update-check request for one gallery: an x
// parameter per extension carrying its id, installed version, and days
// since the last ping. Pending extensions check in as version 0.0.0.0
// so any offer qualifies.
func CheckURL(gallery string, targets []registry.UpdateTarget, now time.Time) (string, error) {
	base, err := url.Parse(gallery)
	if err != nil {
		return "", fmt.Errorf("invalid gallery url %q: %w", gallery, err)
	}

	query := base.Query()
	for _, target := range targets {
		installed := target.Version
		if installed == "" {
			installed = "0.0.0.0"
		}
		entry := url.Values{}
		entry.Set("id", target.ID)
		entry.Set("v", installed)
		if !target.LastPing.IsZero() {
			days := int(now.Sub(target.LastPing).Hours() / 24)
			if days < 0 {
				days = 0
			}
			entry.Set("ping", strconv.Itoa(days))
		}
		query.Add("x", entry.Encode())
	}
	base.RawQuery = query.Encode()

	return base.String(), nil
}

// FetchIndex performs an update check against one gallery.
func (c *Client) FetchIndex(ctx context.Context, gallery string, targets []registry.UpdateTarget) (*Index, error) {
	checkURL, err := CheckURL(gallery, targets, time.Now())
	if err != nil {
		return nil, err
	}

	data, err := c.fetch(ctx, checkURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch update index: %w", err)
	}

	idx, err := ParseIndex(data)
	if err != nil {
		return nil, err
	}

	return idx, nil
}

// FetchPackage downloads an offered package and verifies its digest
// when the gallery published one.
func (c *Client) FetchPackage(ctx context.Context, info UpdateInfo) ([]byte, error) {
	data, err := c.fetch(ctx, info.PackageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package %s@%s: %w", info.ID, info.Version, err)
	}

	if info.SHA256 != "" {
		sum := sha256.Sum256(data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), info.SHA256) {
			return nil, fmt.Errorf("%w: package %s@%s", ErrHashMismatch, info.ID, info.Version)
		}
	}

	return data, nil
}

// FetchBlacklist downloads the ids the gallery operator has banned.
func (c *Client) FetchBlacklist(ctx context.Context, blacklistURL string) ([]string, error) {
	data, err := c.fetch(ctx, blacklistURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blacklist: %w", err)
	}

	var doc struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse blacklist: %w", err)
	}

	return doc.IDs, nil
}

// fetch performs an HTTP GET request.
func (c *Client) fetch(ctx context.Context, fetchURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: request creation failed", ErrNetworkError)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed", ErrNetworkError)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// Continue
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response", ErrNetworkError)
	}

	return data, nil
}
