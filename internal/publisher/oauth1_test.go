package publisher

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestPercentEncode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"abcXYZ019", "abcXYZ019"},
		{"-._~", "-._~"},
		{"hello world", "hello%20world"},
		{"a+b", "a%2Bb"},
		{"1&2=3", "1%262%3D3"},
		{"ümlaut", "%C3%BCmlaut"},
	}
	for _, tc := range tests {
		if got := percentEncode(tc.in); got != tc.want {
			t.Errorf("percentEncode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func fixedSigner() *oauthSigner {
	s := newOAuthSigner("ck", "cs", "tok", "ts")
	s.nonce = func() string { return "fixednonce" }
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestAuthorizationHeaderShape(t *testing.T) {
	s := fixedSigner()
	h, err := s.authorizationHeader("POST", "https://api.example.test/2/tweets", nil)
	if err != nil {
		t.Fatalf("authorizationHeader: %v", err)
	}
	if !strings.HasPrefix(h, "OAuth ") {
		t.Fatalf("header prefix: %q", h)
	}
	for _, want := range []string{
		`oauth_consumer_key="ck"`,
		`oauth_nonce="fixednonce"`,
		`oauth_signature_method="HMAC-SHA1"`,
		`oauth_timestamp="1700000000"`,
		`oauth_token="tok"`,
		`oauth_version="1.0"`,
		`oauth_signature="`,
	} {
		if !strings.Contains(h, want) {
			t.Errorf("header missing %s: %q", want, h)
		}
	}
}

func TestAuthorizationHeaderDeterministic(t *testing.T) {
	a, err := fixedSigner().authorizationHeader("POST", "https://api.example.test/2/tweets", nil)
	if err != nil {
		t.Fatalf("authorizationHeader: %v", err)
	}
	b, err := fixedSigner().authorizationHeader("POST", "https://api.example.test/2/tweets", nil)
	if err != nil {
		t.Fatalf("authorizationHeader: %v", err)
	}
	if a != b {
		t.Errorf("same inputs should sign identically:\n%s\n%s", a, b)
	}

	// Different form body must change the signature.
	c, err := fixedSigner().authorizationHeader("POST", "https://api.example.test/2/tweets",
		url.Values{"media_data": {"abc"}})
	if err != nil {
		t.Fatalf("authorizationHeader: %v", err)
	}
	if a == c {
		t.Error("form parameters should participate in the signature")
	}
}

func TestAuthorizationHeaderQueryParams(t *testing.T) {
	a, err := fixedSigner().authorizationHeader("GET", "https://api.example.test/2/tweets/1?tweet.fields=public_metrics", nil)
	if err != nil {
		t.Fatalf("authorizationHeader: %v", err)
	}
	b, err := fixedSigner().authorizationHeader("GET", "https://api.example.test/2/tweets/1", nil)
	if err != nil {
		t.Fatalf("authorizationHeader: %v", err)
	}
	if a == b {
		t.Error("query parameters should participate in the signature")
	}
}
