package publisher

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// oauthSigner produces OAuth 1.0a Authorization headers (HMAC-SHA1).
//
// The signature base string covers the HTTP method, the request URL
// without query, and the sorted union of oauth parameters, query
// parameters and form body parameters. JSON bodies contribute nothing.
type oauthSigner struct {
	consumerKey    string
	consumerSecret string
	token          string
	tokenSecret    string

	// injectable for deterministic tests
	nonce func() string
	now   func() time.Time
}

func newOAuthSigner(consumerKey, consumerSecret, token, tokenSecret string) *oauthSigner {
	return &oauthSigner{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		token:          token,
		tokenSecret:    tokenSecret,
		nonce:          randomNonce,
		now:            time.Now,
	}
}

// authorizationHeader signs method+rawURL+form and returns the full
// "OAuth ..." header value. form may be nil for JSON-body requests.
func (s *oauthSigner) authorizationHeader(method, rawURL string, form url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("oauth: parse url: %w", err)
	}

	oauth := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            s.token,
		"oauth_version":          "1.0",
	}

	// Collect all parameters that participate in the signature.
	params := map[string][]string{}
	for k, v := range oauth {
		params[k] = append(params[k], v)
	}
	for k, vs := range u.Query() {
		params[k] = append(params[k], vs...)
	}
	for k, vs := range form {
		params[k] = append(params[k], vs...)
	}

	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range params {
		ek := percentEncode(k)
		for _, v := range vs {
			pairs = append(pairs, pair{ek, percentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var ps strings.Builder
	for i, p := range pairs {
		if i > 0 {
			ps.WriteByte('&')
		}
		ps.WriteString(p.k)
		ps.WriteByte('=')
		ps.WriteString(p.v)
	}

	baseURL := u.Scheme + "://" + u.Host + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(ps.String())

	signingKey := percentEncode(s.consumerSecret) + "&" + percentEncode(s.tokenSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var h strings.Builder
	h.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			h.WriteString(", ")
		}
		h.WriteString(percentEncode(k))
		h.WriteString(`="`)
		h.WriteString(percentEncode(oauth[k]))
		h.WriteString(`"`)
	}
	return h.String(), nil
}

// percentEncode implements RFC 3986 encoding: everything except
// unreserved characters is escaped, space becomes %20.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

func randomNonce() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fall back to a time-based nonce; uniqueness is what matters.
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf[:])
}
