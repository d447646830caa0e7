package dnspod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/tc3"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 4 << 20
	maxErrorBodyBytes     = 512
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues signed DNSPod API 3.0 calls on behalf of one account.
type Client struct {
	cfg     *config.ProviderConfig
	creds   domain.Credentials
	http    httpDoer
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewClient(cfg *config.ProviderConfig, creds domain.Credentials, httpClient httpDoer, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.RequestTimeoutDuration()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		cfg:     cfg,
		creds:   creds,
		http:    httpClient,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// Do performs one call and decodes the Response object into T.
func Do[T any](ctx context.Context, c *Client, method, action, query string, body any) (T, error) {
	var out T
	err := c.DoRequest(ctx, method, action, query, body, &out)
	return out, err
}

// DoRequest signs and sends one call. The clock is read once per call so the
// signed date and timestamp always agree. The call is detached from ctx
// cancellation and bounded by the configured request timeout instead, so a
// shutdown lets an in-flight call finish.
func (c *Client) DoRequest(ctx context.Context, method, action, query string, body any, out any) error {
	method = strings.ToUpper(method)
	payload, err := encodeBody(method, body)
	if err != nil {
		return fmt.Errorf("dnspod %s: marshal request body: %w", action, err)
	}

	signed := tc3.NewRequest(method, action, query, payload, c.cfg.Host, c.cfg.Service, c.now())
	signature := tc3.Sign(signed, c.creds.SecretKey)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/"
	if query != "" {
		url += "?" + query
	}
	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("dnspod %s: build request: %w", action, err)
	}

	req.Host = c.cfg.Host
	req.Header.Set("Content-Type", signed.ContentType())
	req.Header.Set("Authorization", signed.Authorization(c.creds.SecretID, signature))
	req.Header.Set("Host", c.cfg.Host)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Version", c.cfg.Version)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(signed.Timestamp, 10))
	if c.cfg.Region != "" {
		req.Header.Set("X-TC-Region", c.cfg.Region)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Action: action, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Action: action, StatusCode: resp.StatusCode, Body: truncate(string(data), maxErrorBodyBytes)}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &DecodeError{Action: action, Err: err}
	}
	if len(env.Response) == 0 || string(env.Response) == "null" {
		return &DecodeError{Action: action, Err: errors.New("missing Response object")}
	}
	var meta responseMeta
	if err := json.Unmarshal(env.Response, &meta); err != nil {
		return &DecodeError{Action: action, Err: err}
	}

	c.logger.Debug().
		Str("action", action).
		Int("status", resp.StatusCode).
		Str("request_id", meta.RequestID).
		Msg("dnspod call completed")

	if meta.Error != nil {
		return classifyProviderError(&ProviderError{
			Action:    action,
			Code:      meta.Error.Code,
			Message:   meta.Error.Message,
			RequestID: meta.RequestID,
		})
	}

	if out != nil {
		if err := json.Unmarshal(env.Response, out); err != nil {
			return &DecodeError{Action: action, Err: err}
		}
	}
	return nil
}

// encodeBody renders the JSON payload. GET calls carry their parameters in
// the query string and sign an empty body.
func encodeBody(method string, body any) ([]byte, error) {
	if method == http.MethodGet {
		return nil, nil
	}
	switch b := body.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
