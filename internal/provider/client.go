package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "warelay/pkg/logx"
)

// Client is the delivery surface the dispatcher talks to.
type Client interface {
	// Status probes whether the credential's session is connected.
	Status(ctx context.Context, credential string) (StatusInfo, error)
	SendText(ctx context.Context, credential, destination, text string) (SendResult, error)
	SendImage(ctx context.Context, credential, destination, imageRef, caption string) (SendResult, error)
	SendMixed(ctx context.Context, credential, destination, text, imageRef string) (SendResult, error)
}

type StatusInfo struct {
	Connected bool `json:"connected"`
}

type SendResult struct {
	MessageID string `json:"id"`
}

type Config struct {
	BaseURL string
	Timeout time.Duration // per call; 0 means default
}

const defaultTimeout = 15 * time.Second

// HTTPClient implements Client against the gateway REST API.
type HTTPClient struct {
	base string
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("provider base_url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPClient{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

func (c *HTTPClient) Status(ctx context.Context, credential string) (StatusInfo, error) {
	var out StatusInfo
	err := c.do(ctx, credential, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

type sendTextReq struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendImageReq struct {
	To      string `json:"to"`
	Image   string `json:"image"`
	Caption string `json:"caption,omitempty"`
}

type sendMixedReq struct {
	To    string `json:"to"`
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (c *HTTPClient) SendText(ctx context.Context, credential, destination, text string) (SendResult, error) {
	var out SendResult
	err := c.do(ctx, credential, http.MethodPost, "/api/messages/text", sendTextReq{To: destination, Text: text}, &out)
	return out, err
}

func (c *HTTPClient) SendImage(ctx context.Context, credential, destination, imageRef, caption string) (SendResult, error) {
	var out SendResult
	err := c.do(ctx, credential, http.MethodPost, "/api/messages/image", sendImageReq{To: destination, Image: imageRef, Caption: caption}, &out)
	return out, err
}

func (c *HTTPClient) SendMixed(ctx context.Context, credential, destination, text, imageRef string) (SendResult, error) {
	var out SendResult
	err := c.do(ctx, credential, http.MethodPost, "/api/messages/media", sendMixedReq{To: destination, Text: text, Image: imageRef}, &out)
	return out, err
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, credential, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("provider: marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// The http.Client timeout surfaces as a url.Error; honor a caller ctx
		// deadline the same way.
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return wrapTransport(err)
	}
	defer resp.Body.Close()

	// Bound the body read; gateway responses are tiny.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return wrapTransport(err)
	}

	c.log.Trace("gateway call",
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Kind: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("provider: decode response: %w", err)
		}
	}
	return nil
}
