package helpers

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestCanonicalURL(t *testing.T) {
	got, err := CanonicalURL("HTTPS://Example.com:443/a/../b?utm_source=x&b=2&a=1#frag")
	if err != nil {
		t.Fatalf("CanonicalURL: %v", err)
	}
	want := "https://example.com/b?a=1&b=2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCanonicalURL_Schemeless(t *testing.T) {
	got, err := CanonicalURL("example.com/docs")
	if err != nil {
		t.Fatalf("CanonicalURL: %v", err)
	}
	if got != "https://example.com/docs" {
		t.Fatalf("unexpected canonical url %q", got)
	}
}

func TestCanonicalURL_RejectsOtherSchemes(t *testing.T) {
	if _, err := CanonicalURL("file:///etc/passwd"); err == nil {
		t.Fatalf("expected file scheme to be rejected")
	}
}

func TestHostAllowed(t *testing.T) {
	allow := []string{"example.com"}
	if !HostAllowed("https://www.example.com/x", allow) {
		t.Fatalf("subdomain should be allowed")
	}
	if HostAllowed("https://evil-example.com/x", allow) {
		t.Fatalf("lookalike host must be rejected")
	}
	if !HostAllowed("https://anything.org", nil) {
		t.Fatalf("empty allowlist admits every host")
	}
}

func TestCheckPublicHost(t *testing.T) {
	lookup := func(ctx context.Context, host string) ([]net.IPAddr, error) {
		switch host {
		case "intranet.example.com":
			return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}, {IP: net.ParseIP("10.1.2.3")}}, nil
		case "www.example.com":
			return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
		}
		return nil, errors.New("no such host")
	}
	ctx := context.Background()
	for _, raw := range []string{
		"http://169.254.169.254/latest/meta-data/iam",
		"http://localhost:6379/",
		"http://api.localhost/",
		"http://127.0.0.1/",
		"http://10.0.0.5/admin",
		"http://192.168.1.1/",
		"http://[::1]/",
		"http://0.0.0.0/",
		"https://intranet.example.com/wiki",
	} {
		if err := CheckPublicHost(ctx, raw, lookup); !errors.Is(err, ErrNonPublicHost) {
			t.Fatalf("%s: expected ErrNonPublicHost, got %v", raw, err)
		}
	}
	if err := CheckPublicHost(ctx, "https://www.example.com/launch", lookup); err != nil {
		t.Fatalf("public host rejected: %v", err)
	}
	if err := CheckPublicHost(ctx, "https://8.8.8.8/", lookup); err != nil {
		t.Fatalf("public ip rejected: %v", err)
	}
	if err := CheckPublicHost(ctx, "https://missing.example.com/", lookup); err == nil || errors.Is(err, ErrNonPublicHost) {
		t.Fatalf("expected resolve error, got %v", err)
	}
}
