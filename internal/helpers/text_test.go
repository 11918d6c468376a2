package helpers

import "testing"

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"日本語テキスト", 3, "日本語"},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncateRunes(tc.in, tc.max); got != tc.want {
			t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestNormalizePagePath(t *testing.T) {
	cases := map[string]string{
		"en/blog/":          "/en/blog",
		"/en//blog/post":    "/en/blog/post",
		"/en/./blog/../faq": "/en/faq",
		"/":                 "/",
	}
	for in, want := range cases {
		got, err := NormalizePagePath(in)
		if err != nil {
			t.Fatalf("NormalizePagePath(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizePagePath(%q) = %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"", "   ", "/en?x=1", "/en#top"} {
		if _, err := NormalizePagePath(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestIsUnder(t *testing.T) {
	if !IsUnder("/en/blog/post", "/en") {
		t.Fatalf("expected /en/blog/post under /en")
	}
	if !IsUnder("/en", "/en") {
		t.Fatalf("expected /en under itself")
	}
	if IsUnder("/english", "/en") {
		t.Fatalf("/english must not be under /en")
	}
	if !IsUnder("/fr", "/") {
		t.Fatalf("everything is under root")
	}
}
