package scope

import (
	"context"
	"errors"
	"testing"
)

type staticScopes map[string][]string

func (s staticScopes) ResolveScopes(_ context.Context, appID string) ([]string, error) {
	return s[appID], nil
}

type failingScopes struct{}

func (failingScopes) ResolveScopes(context.Context, string) ([]string, error) {
	return nil, errors.New("store down")
}

func TestAuthorize(t *testing.T) {
	a := NewAuthorizer(staticScopes{"app-1": {UserRead, QuotaRead}}, nil)
	cases := []struct {
		name  string
		route string
		want  error
	}{
		{name: "granted", route: RouteKey("GET", "/v1/users/:user_id")},
		{name: "missing", route: RouteKey("PATCH", "/v1/users/:user_id"), want: ErrInsufficientScope},
		{name: "unlisted route", route: RouteKey("GET", "/v1/ping")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := a.Authorize(context.Background(), "app-1", tc.route)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAuthorizeSurfacesSourceFailure(t *testing.T) {
	a := NewAuthorizer(failingScopes{}, nil)
	err := a.Authorize(context.Background(), "app-1", RouteKey("GET", "/v1/quota"))
	if err == nil || errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("expected a non-scope error, got %v", err)
	}
	if err := a.Authorize(context.Background(), "app-1", RouteKey("GET", "/v1/ping")); err != nil {
		t.Fatalf("unlisted route must not consult the source, got %v", err)
	}
}
