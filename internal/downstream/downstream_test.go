package downstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/router-for-me/AppGateway/internal/config"
)

func TestExtractUsage(t *testing.T) {
	cases := []struct {
		name string
		body string
		want float64
		ok   bool
	}{
		{name: "total", body: `{"usage":{"total_tokens":42}}`, want: 42, ok: true},
		{name: "split", body: `{"usage":{"prompt_tokens":10,"completion_tokens":5.5}}`, want: 15.5, ok: true},
		{name: "nested", body: `{"data":{"usage":{"input_tokens":3,"output_tokens":4}}}`, want: 7, ok: true},
		{name: "negative clamps", body: `{"usage":{"total_tokens":-3}}`, want: 0, ok: true},
		{name: "omitted", body: `{"result":"ok"}`, want: 0, ok: false},
		{name: "empty", body: ``, want: 0, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractUsage([]byte(tc.body))
			if got != tc.want || ok != tc.ok {
				t.Fatalf("expected (%v, %v), got (%v, %v)", tc.want, tc.ok, got, ok)
			}
		})
	}
}

func TestExtractNewUser(t *testing.T) {
	cases := []struct {
		body string
		id   uint64
		ok   bool
	}{
		{body: `{"user_id":17}`, id: 17, ok: true},
		{body: `{"data":{"user":{"id":"23"}}}`, id: 23, ok: true},
		{body: `{"user_id":17,"is_new_user":false}`, ok: false},
		{body: `{"user_id":"abc"}`, ok: false},
		{body: `{"token":"x"}`, ok: false},
	}
	for _, tc := range cases {
		id, ok := ExtractNewUser([]byte(tc.body))
		if id != tc.id || ok != tc.ok {
			t.Fatalf("%s: expected (%d, %v), got (%d, %v)", tc.body, tc.id, tc.ok, id, ok)
		}
	}
}

func TestForward(t *testing.T) {
	var gotPath, gotApp, gotSecret string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotApp = r.Header.Get(HeaderForwardedApp)
		gotSecret = r.Header.Get("X-App-Secret")
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/register":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"user_id":9}`))
		case "/api/broken":
			_, _ = w.Write([]byte(`not json`))
		case "/api/fail":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"echo":` + string(body) + `,"usage":{"total_tokens":12}}`))
		}
	}))
	defer upstream.Close()

	client, err := New(config.DownstreamConfig{Services: map[string]string{"user": upstream.URL + "/api"}, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	header := http.Header{"X-App-Secret": []string{"gws_secret"}}

	resp, err := client.Forward(ctx, Request{Service: "user", Method: http.MethodPost, Path: "/echo", Query: "a=1", Header: header, Body: []byte(`{"x":1}`), AppID: "app-1"})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if gotPath != "/api/echo?a=1" || gotApp != "app-1" || gotSecret != "" {
		t.Fatalf("unexpected upstream view path=%q app=%q secret=%q", gotPath, gotApp, gotSecret)
	}
	if !resp.HasUsage || resp.Tokens != 12 {
		t.Fatalf("expected usage 12, got %+v", resp)
	}

	resp, err = client.Forward(ctx, Request{Service: "user", Method: http.MethodPost, Path: "register"})
	if err != nil || !resp.NewUser || resp.NewUserID != 9 || resp.Status != http.StatusCreated {
		t.Fatalf("expected new user 9, got %+v %v", resp, err)
	}

	if _, err = client.Forward(ctx, Request{Service: "user", Method: http.MethodGet, Path: "broken"}); !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected ErrUnrecognized, got %v", err)
	}
	if _, err = client.Forward(ctx, Request{Service: "user", Method: http.MethodGet, Path: "fail"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 5xx, got %v", err)
	}
	if _, err = client.Forward(ctx, Request{Service: "billing", Method: http.MethodGet, Path: "x"}); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
}

func TestForwardRejectsOversizedReply(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		n := maxResponseBytes
		if r.URL.Path == "/big" {
			n++
		}
		body := make([]byte, n)
		for i := range body {
			body[i] = ' '
		}
		body[0] = '{'
		body[n-1] = '}'
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	client, err := New(config.DownstreamConfig{Services: map[string]string{"ai": upstream.URL}, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	if _, err = client.Forward(ctx, Request{Service: "ai", Method: http.MethodGet, Path: "big"}); !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected ErrUnrecognized for oversized reply, got %v", err)
	}
	resp, err := client.Forward(ctx, Request{Service: "ai", Method: http.MethodGet, Path: "fits"})
	if err != nil {
		t.Fatalf("forward at limit: %v", err)
	}
	if len(resp.Body) != maxResponseBytes {
		t.Fatalf("expected %d bytes, got %d", maxResponseBytes, len(resp.Body))
	}
}

func TestForwardUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	client, err := New(config.DownstreamConfig{Services: map[string]string{"auth": addr}, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err = client.Forward(context.Background(), Request{Service: "auth", Method: http.MethodGet, Path: "login"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	if _, err := New(config.DownstreamConfig{Services: map[string]string{"auth": "not a url"}}); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}
