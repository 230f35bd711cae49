// Package fatsecret talks to the FatSecret REST API: OAuth1 HMAC-SHA1 request signing,
// response classification and the rate-limit aware fetch loop.
package fatsecret

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/personaldata/internal/domain"
)

const (
	signatureMethod = "HMAC-SHA1"
	oauthVersion    = "1.0"
)

const upperHex = "0123456789ABCDEF"

// PercentEncode escapes every byte outside the RFC 3986 unreserved set (A-Z a-z 0-9 - . _ ~).
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

type encodedPair struct{ key, value string }

// encodedParams returns the encoded pairs sorted by key, then value.
func encodedParams(params map[string]string) []encodedPair {
	pairs := make([]encodedPair, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, encodedPair{key: PercentEncode(k), value: PercentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})
	return pairs
}

func joinPairs(pairs []encodedPair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// BaseString builds the OAuth1 signature base string.
func BaseString(method, baseURL string, params map[string]string) string {
	return strings.ToUpper(method) + "&" + PercentEncode(baseURL) + "&" + PercentEncode(joinPairs(encodedParams(params)))
}

// Sign computes base64(HMAC-SHA1(enc(consumerSecret)&enc(tokenSecret), base string)).
func Sign(method, baseURL string, params map[string]string, consumerSecret, tokenSecret string) string {
	key := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(BaseString(method, baseURL, params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignedRequest is a fully signed call. Build a new one for every request: the nonce
// and timestamp are part of the signed parameters.
type SignedRequest struct {
	method    string
	baseURL   string
	params    map[string]string
	signature string
}

// NewSignedRequest merges the oauth parameters for cred into params and signs the result.
func NewSignedRequest(method, baseURL string, params map[string]string, cred domain.Credential, nonce string, timestamp int64) SignedRequest {
	all := make(map[string]string, len(params)+7)
	for k, v := range params {
		all[k] = v
	}
	all["oauth_consumer_key"] = cred.ConsumerKey
	all["oauth_token"] = cred.AccessToken
	all["oauth_nonce"] = nonce
	all["oauth_signature_method"] = signatureMethod
	all["oauth_timestamp"] = strconv.FormatInt(timestamp, 10)
	all["oauth_version"] = oauthVersion

	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	signature := Sign(method, baseURL, all, cred.ConsumerSecret, cred.AccessTokenSecret)
	all["oauth_signature"] = signature

	return SignedRequest{
		method:    method,
		baseURL:   baseURL,
		params:    all,
		signature: signature,
	}
}

// Method returns the upper-case HTTP method.
func (r SignedRequest) Method() string { return r.method }

// Signature returns the computed oauth_signature.
func (r SignedRequest) Signature() string { return r.signature }

// Param returns a single signed parameter.
func (r SignedRequest) Param(key string) string { return r.params[key] }

// URL renders the base URL with every signed parameter in the query string.
func (r SignedRequest) URL() string {
	return r.baseURL + "?" + joinPairs(encodedParams(r.params))
}
