// Package directory lists the feed sources to poll, either from the directory
// service or from static configuration.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/retry"
)

const (
	loginPath   = "/auth/login"
	sourcesPath = "/sources/all-with-topics"
	maxBody     = 32 << 20
)

// Config holds directory service settings.
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the directory service. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	retry  retry.Policy
	logger *zap.Logger

	mu    sync.Mutex
	token string
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Data struct {
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

type sourcesResponse struct {
	Data []struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Topics []struct {
			ID     int64  `json:"id"`
			Name   string `json:"name"`
			RSSURL string `json:"rss_url"`
		} `json:"topics"`
	} `json:"data"`
}

var errUnauthorized = errors.New("unauthorized")

// NewClient constructs a Client. httpClient and policy may be nil.
func NewClient(cfg Config, httpClient *http.Client, policy retry.Policy, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		retry:  policy,
		logger: logger,
	}
}

// Login exchanges the configured credentials for a bearer token. Every failure
// is an *ingest.AuthError.
func (c *Client) Login(ctx context.Context) error {
	payload, err := json.Marshal(loginRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return &ingest.AuthError{Err: fmt.Errorf("encode login: %w", err)}
	}

	var resp loginResponse
	_, err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, loginPath, payload, "", &resp)
	})
	if err != nil {
		return &ingest.AuthError{Err: err}
	}
	if resp.Data.AccessToken == "" {
		return &ingest.AuthError{Err: errors.New("login response carried no access token")}
	}

	c.mu.Lock()
	c.token = resp.Data.AccessToken
	c.mu.Unlock()
	c.logger.Info("directory login succeeded", zap.String("base_url", c.cfg.BaseURL))
	return nil
}

// Sources lists every topic feed across all sources, dropping topics without
// a feed URL. It logs in first when needed and re-logs in once on a 401.
// Listing failures are *ingest.DirectoryFetchError; login failures are
// *ingest.AuthError.
func (c *Client) Sources(ctx context.Context) ([]ingest.FeedSource, error) {
	if c.currentToken() == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.listSources(ctx)
	if errors.Is(err, errUnauthorized) {
		c.logger.Info("directory token rejected; logging in again")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		resp, err = c.listSources(ctx)
	}
	if err != nil {
		return nil, &ingest.DirectoryFetchError{Err: err}
	}

	var out []ingest.FeedSource
	for _, src := range resp.Data {
		for _, topic := range src.Topics {
			feedURL := strings.TrimSpace(topic.RSSURL)
			if feedURL == "" {
				continue
			}
			out = append(out, ingest.FeedSource{
				SourceID:   src.ID,
				SourceName: src.Name,
				TopicID:    topic.ID,
				TopicName:  topic.Name,
				FeedURL:    feedURL,
			})
		}
	}
	c.logger.Info("directory sources listed", zap.Int("sources", len(resp.Data)), zap.Int("feeds", len(out)))
	return out, nil
}

func (c *Client) listSources(ctx context.Context) (sourcesResponse, error) {
	var resp sourcesResponse
	_, err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, sourcesPath, nil, c.currentToken(), &resp)
	})
	return resp, err
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode == http.StatusUnauthorized {
		return retry.Permanent(fmt.Errorf("%s %s: %w", method, path, errUnauthorized))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %w", method, path, &retry.StatusError{StatusCode: resp.StatusCode})
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
