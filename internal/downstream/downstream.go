// Package downstream forwards admitted calls to the collaborator services and
// extracts the usage and new-user facts the admission pipeline needs.
package downstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/AppGateway/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Collaborator service names.
const (
	ServiceAuth         = "auth"
	ServiceUser         = "user"
	ServicePermission   = "permission"
	ServiceOrganization = "organization"
	ServiceSubscription = "subscription"
	ServiceAI           = "ai"
)

// Header set on forwarded calls.
const HeaderForwardedApp = "X-Gateway-App-Id"

const maxResponseBytes = 8 << 20

var (
	// ErrUnavailable indicates the collaborator could not be reached or failed.
	ErrUnavailable = errors.New("downstream: service unavailable")
	// ErrUnrecognized indicates the collaborator returned a body the gateway cannot interpret.
	ErrUnrecognized = errors.New("downstream: unrecognized response")
	// ErrUnknownService indicates no base URL is configured for the service.
	ErrUnknownService = errors.New("downstream: unknown service")
)

// Request is one call to forward.
type Request struct {
	Service string
	Method  string
	Path    string
	Query   string
	Header  http.Header
	Body    []byte
	AppID   string
}

// Response is the collaborator reply plus the extracted facts.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Tokens is the reported usage; 0 when the collaborator omitted it.
	Tokens   float64
	HasUsage bool

	// NewUserID is set when the reply announces a newly created user.
	NewUserID uint64
	NewUser   bool
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Client forwards requests over HTTP.
type Client struct {
	services map[string]*url.URL
	http     *http.Client
}

// New builds a Client from the configured service base URLs.
func New(cfg config.DownstreamConfig) (*Client, error) {
	services := make(map[string]*url.URL, len(cfg.Services))
	for name, raw := range cfg.Services {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("downstream: invalid base url for %s: %q", name, raw)
		}
		services[strings.ToLower(strings.TrimSpace(name))] = u
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		services: services,
		http:     &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
	"Authorization", "X-App-Secret",
}

// Forward sends req to its service. Transport failures and 5xx replies map to ErrUnavailable.
func (c *Client) Forward(ctx context.Context, req Request) (*Response, error) {
	base, ok := c.services[strings.ToLower(req.Service)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, req.Service)
	}
	target := *base
	target.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(req.Path, "/")
	target.RawQuery = req.Query

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("downstream: build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}
	if req.AppID != "" {
		httpReq.Header.Set(HeaderForwardedApp, req.AppID)
	}
	if httpReq.Header.Get("Content-Type") == "" && len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"service": req.Service, "path": req.Path}).Warn("downstream: call failed")
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, req.Service)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("downstream: close body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		log.WithError(err).WithField("service", req.Service).Warn("downstream: read body failed")
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, req.Service)
	}
	if len(body) > maxResponseBytes {
		log.WithFields(log.Fields{"service": req.Service, "limit": maxResponseBytes}).Warn("downstream: response too large")
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", ErrUnrecognized, req.Service, maxResponseBytes)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		log.WithFields(log.Fields{"service": req.Service, "status": resp.StatusCode}).Warn("downstream: service error")
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, req.Service, resp.StatusCode)
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		if isJSON(resp.Header.Get("Content-Type")) {
			return nil, fmt.Errorf("%w: %s", ErrUnrecognized, req.Service)
		}
		return out, nil
	}
	out.Tokens, out.HasUsage = ExtractUsage(body)
	if out.Success() {
		out.NewUserID, out.NewUser = ExtractNewUser(body)
	}
	return out, nil
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

var totalUsagePaths = []string{"usage.total_tokens", "usage.tokens", "data.usage.total_tokens", "tokens_used"}

// ExtractUsage reads the token usage the collaborator reported. Split prompt and
// completion counts are summed when no total is present.
func ExtractUsage(body []byte) (float64, bool) {
	if len(body) == 0 {
		return 0, false
	}
	for _, path := range totalUsagePaths {
		if v := gjson.GetBytes(body, path); v.Type == gjson.Number {
			return clampUsage(v.Float()), true
		}
	}
	for _, prefix := range []string{"usage", "data.usage"} {
		parts := gjson.GetManyBytes(body,
			prefix+".prompt_tokens", prefix+".completion_tokens",
			prefix+".input_tokens", prefix+".output_tokens")
		sum, found := 0.0, false
		for _, p := range parts {
			if p.Type == gjson.Number {
				sum += p.Float()
				found = true
			}
		}
		if found {
			return clampUsage(sum), true
		}
	}
	return 0, false
}

func clampUsage(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// ExtractNewUser reads a created user id from a registration reply. A reply
// with an explicit false "new_user" or "is_new_user" flag is not a new user.
func ExtractNewUser(body []byte) (uint64, bool) {
	if len(body) == 0 {
		return 0, false
	}
	for _, flag := range []string{"new_user", "is_new_user", "data.new_user", "data.is_new_user"} {
		if v := gjson.GetBytes(body, flag); v.Exists() && !v.Bool() {
			return 0, false
		}
	}
	for _, path := range []string{"user_id", "user.id", "data.user_id", "data.user.id", "id"} {
		v := gjson.GetBytes(body, path)
		if !v.Exists() {
			continue
		}
		if id, ok := parseID(v); ok {
			return id, true
		}
	}
	return 0, false
}

func parseID(v gjson.Result) (uint64, bool) {
	switch v.Type {
	case gjson.Number:
		if v.Num < 1 {
			return 0, false
		}
		return v.Uint(), true
	case gjson.String:
		id, err := strconv.ParseUint(strings.TrimSpace(v.Str), 10, 64)
		if err != nil || id == 0 {
			return 0, false
		}
		return id, true
	}
	return 0, false
}
