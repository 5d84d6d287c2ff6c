package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.okx.com"

// Clock supplies the exchange-aligned time used for request timestamps.
type Clock interface {
	Now() time.Time
}

// syncer is implemented by clocks that can re-measure their offset. The
// client resyncs them when the exchange rejects a request timestamp.
type syncer interface {
	Sync(ctx context.Context) (time.Duration, error)
}

type localClock struct{}

func (localClock) Now() time.Time { return time.Now() }

type Client struct {
	baseURL   string
	http      *http.Client
	creds     config.Credentials
	clock     Clock
	limiter   *rate.Limiter
	simulated bool
	log       *zap.Logger
}

func New(cfg config.RESTConfig, creds config.Credentials, log *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		creds:     creds,
		clock:     localClock{},
		limiter:   rate.NewLimiter(limit, burst),
		simulated: cfg.Simulated,
		log:       log,
	}
}

// SetClock switches request signing to an exchange-aligned clock. It is called
// once during wiring, before any signed request is issued.
func (c *Client) SetClock(clock Clock) {
	if clock != nil {
		c.clock = clock
	}
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, requestPath, nil, signed, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, payload, true, out)
}

func (c *Client) do(ctx context.Context, method, requestPath string, payload []byte, signed bool, out any) error {
	err := c.send(ctx, method, requestPath, payload, signed, out)
	if signed && timestampExpired(err) {
		c.resync(ctx)
	}
	return err
}

// resync runs before the caller retries, so the next attempt is signed with a
// fresh offset.
func (c *Client) resync(ctx context.Context) {
	s, ok := c.clock.(syncer)
	if !ok {
		c.log.Warn("request timestamp expired and clock cannot resync")
		return
	}
	if _, err := s.Sync(ctx); err != nil {
		c.log.Warn("clock resync after expired timestamp failed", zap.Error(err))
	}
}

func (c *Client) send(ctx context.Context, method, requestPath string, payload []byte, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if signed {
		ts := Timestamp(c.clock.Now())
		req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", Sign(c.creds.APISecret, ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %w", method, requestPath, apperr.ErrTransient, err)
	}
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && env.Code != "" && env.Code != "0" {
			return codeError(method, requestPath, resp.StatusCode, env.Code, env.Msg)
		}
		return statusError(method, requestPath, resp.StatusCode, raw)
	}
	if decodeErr != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, requestPath, decodeErr)
	}
	if env.Code != "0" && env.Code != "" {
		// Order endpoints report per-item sCode alongside a generic top-level
		// code; let the caller inspect the items first.
		if out != nil && len(env.Data) > 0 && string(env.Data) != "[]" {
			if items, ok := out.(itemErrors); ok {
				if err := json.Unmarshal(env.Data, out); err == nil {
					if itemErr := items.itemError(method, requestPath); itemErr != nil {
						return itemErr
					}
				}
			}
		}
		return codeError(method, requestPath, resp.StatusCode, env.Code, env.Msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, requestPath, err)
	}
	return nil
}
