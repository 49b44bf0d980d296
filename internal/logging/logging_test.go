package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/router-for-me/AppGateway/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetupWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	closer, errSetup := Setup(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	if errSetup != nil {
		t.Fatalf("setup: %v", errSetup)
	}
	t.Cleanup(func() {
		_ = closer.Close()
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})

	log.WithField("app_id", "app-1").Debug("hello")

	data, errRead := os.ReadFile(path)
	if errRead != nil {
		t.Fatalf("read log: %v", errRead)
	}
	if !strings.Contains(string(data), `"app_id":"app-1"`) {
		t.Fatalf("expected json log line with app_id, got %q", string(data))
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestSetupFallsBackToInfoOnUnknownLevel(t *testing.T) {
	closer, errSetup := Setup(config.LogConfig{Level: "chatty"})
	if errSetup != nil {
		t.Fatalf("setup: %v", errSetup)
	}
	defer closer.Close()
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"ab":               "ab",
		"abcd":             "a...d",
		"abcdefgh":         "ab...gh",
		"sk_live_12345678": "sk_l...5678",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskQuery(t *testing.T) {
	got := MaskQuery("page=2&app_secret=abcdefghijkl&code=xyz123&access_token=t0ken")
	for _, leaked := range []string{"abcdefghijkl", "xyz123", "t0ken"} {
		if strings.Contains(got, leaked) {
			t.Fatalf("expected %q masked in %q", leaked, got)
		}
	}
	if !strings.HasPrefix(got, "page=2&") {
		t.Fatalf("expected plain params untouched, got %q", got)
	}
	if MaskQuery("a=1&b=2") != "a=1&b=2" {
		t.Fatalf("expected query without credentials to pass through")
	}
}
