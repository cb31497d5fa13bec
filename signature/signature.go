// Package signature builds and verifies HMAC-SHA256 signed HTTP requests.
//
// The canonical signing string is newline-joined: upper-case method, escaped
// path, encoded query, one "name:value" line per signed header in the order
// the client listed them, an empty line, then the raw body. The Authorization
// header carries the scheme, the access code naming the signing secret, the
// signed header list and the lower-hex signature:
//
//	OpenToken-HMAC-SHA256 AccessCode=<code>, SignedHeaders=host;content-type;x-opentoken-date, Signature=<hex>
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// Scheme is the Authorization scheme tag.
	Scheme = "OpenToken-HMAC-SHA256"

	HeaderAuthorization = "Authorization"
	HeaderDate          = "X-OpenToken-Date"
	HeaderContentType   = "Content-Type"
	HeaderHost          = "Host"
)

var (
	ErrMissingAuthorization   = errors.New("signature: missing authorization")
	ErrMalformedAuthorization = errors.New("signature: malformed authorization")
	ErrMissingSignedHeader    = errors.New("signature: signed header missing from request")
	ErrMalformedQuery         = errors.New("signature: malformed query string")
	ErrInvalidDate            = errors.New("signature: invalid or skewed date")
	ErrBodyTooLarge           = errors.New("signature: body too large")
	ErrMismatch               = errors.New("signature: mismatch")
)

// DefaultSignedHeaders is the header list clients sign unless told otherwise.
var DefaultSignedHeaders = []string{"host", "content-type", "x-opentoken-date"}

// mandatory headers must appear in every signed list.
var mandatory = []string{"host", "x-opentoken-date"}

// CanonicalString builds the signing string of r with body as its payload.
func CanonicalString(r *http.Request, body []byte, signedHeaders []string) (string, error) {
	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return "", ErrMalformedQuery
	}

	var b strings.Builder
	b.Grow(256 + len(body))

	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('\n')
	b.WriteString(r.URL.EscapedPath())
	b.WriteByte('\n')
	b.WriteString(query.Encode())
	b.WriteByte('\n')

	for _, name := range signedHeaders {
		value, ok := headerValue(r, name)
		if !ok {
			return "", ErrMissingSignedHeader
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.Write(body)
	return b.String(), nil
}

// Compute returns lower-hex HMAC-SHA256(secret, canonical).
func Compute(secret []byte, canonical string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = io.WriteString(mac, canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hex signatures in constant time.
func Equal(expected, provided string) bool {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

func headerValue(r *http.Request, name string) (string, bool) {
	if name == "host" {
		host := r.Host
		if host == "" {
			host = r.Header.Get(HeaderHost)
		}
		if host == "" {
			return "", false
		}
		return strings.ToLower(host), true
	}

	values := r.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSpace(v)
	}
	return strings.Join(trimmed, ","), true
}

// readBody reads at most limit bytes of r.Body and puts an identical reader
// back so handlers still see the payload. limit <= 0 disables the cap.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = io.LimitReader(r.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
