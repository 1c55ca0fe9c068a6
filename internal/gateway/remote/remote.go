// Package remote implements the data gateway against a running server: JSON over
// HTTP for reads and writes, a websocket for the change feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
)

const (
	feedBuffer       = 64
	handshakeTimeout = 10 * time.Second
)

// Client is a gateway.Gateway speaking to the server's /rest/v1 and /realtime/v1 endpoints
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        *slog.Logger
}

var _ gateway.Gateway = (*Client)(nil)

// New creates a client for baseURL authenticating with token
func New(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:        logger.OrDefault(log).With("component", "remote"),
	}
}

// Query runs a filtered select
func (c *Client) Query(ctx context.Context, q gateway.Query) ([]gateway.Row, error) {
	var rows []gateway.Row
	if err := c.do(ctx, http.MethodPost, "/rest/v1/query", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert stores one row
func (c *Client) Insert(ctx context.Context, collection string, row gateway.Row) (gateway.Row, error) {
	var stored gateway.Row
	if err := c.do(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(collection), row, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Update patches matching rows
func (c *Client) Update(ctx context.Context, collection string, filters []gateway.Filter, patch gateway.Row) (int64, error) {
	var resp gateway.UpdateResponse
	body := gateway.UpdateRequest{Filters: filters, Patch: patch}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/"+url.PathEscape(collection), body, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Subscribe opens a websocket change feed
func (c *Client) Subscribe(ctx context.Context, req gateway.SubscribeRequest) (*gateway.Subscription, error) {
	wsURL, err := c.realtimeURL()
	if err != nil {
		return nil, gateway.Errorf(gateway.CodeInvalidQuery, err, "realtime url")
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, gateway.Errorf(gateway.CodeUnavailable, err, "dial realtime")
	}

	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, gateway.Errorf(gateway.CodeUnavailable, err, "send subscription")
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var ack gateway.Frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, gateway.Errorf(gateway.CodeUnavailable, err, "read subscription ack")
	}
	conn.SetReadDeadline(time.Time{})
	if ack.Type == gateway.FrameError {
		conn.Close()
		return nil, gateway.Errorf(ack.Code, nil, "%s", ack.Message)
	}

	events := make(chan gateway.Change, feedBuffer)
	sub := gateway.NewSubscription(ctx, events, func() { conn.Close() })

	go func() {
		defer close(events)
		for {
			var frame gateway.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				select {
				case <-sub.Done():
				default:
					c.log.Warn("realtime connection lost", "collection", req.Collection, "error", err)
					sub.Close()
				}
				return
			}
			if frame.Type != gateway.FrameChange || frame.Change == nil {
				continue
			}
			select {
			case events <- *frame.Change:
			case <-sub.Done():
				return
			}
		}
	}()

	c.log.Debug("subscribed", "collection", req.Collection)
	return sub, nil
}

func (c *Client) realtimeURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/realtime/v1")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return gateway.Errorf(gateway.CodeInvalidQuery, err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gateway.Errorf(gateway.CodeInvalidQuery, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return gateway.Errorf(gateway.CodeUnavailable, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gateway.Errorf(gateway.CodeUnavailable, err, "decode response")
	}
	return nil
}

// decodeError turns an error response back into a classified gateway error
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body gateway.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		code := gateway.CodeUnavailable
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = gateway.CodeRejected
		}
		return gateway.Errorf(code, nil, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return gateway.Errorf(body.Code, nil, "%s", body.Message)
}
