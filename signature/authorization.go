package signature

import (
	"net/http"
	"strings"
)

// Authorization is the parsed Authorization header of a signed request.
type Authorization struct {
	AccessCode    string
	SignedHeaders []string
	Signature     string
}

// String renders the header value.
func (a Authorization) String() string {
	return Scheme +
		" AccessCode=" + a.AccessCode +
		", SignedHeaders=" + strings.Join(a.SignedHeaders, ";") +
		", Signature=" + a.Signature
}

// FromRequest parses the Authorization header of r.
func FromRequest(r *http.Request) (Authorization, error) {
	raw := r.Header.Get(HeaderAuthorization)
	if raw == "" {
		return Authorization{}, ErrMissingAuthorization
	}
	return ParseAuthorization(raw)
}

// ParseAuthorization parses a header value. Every field is required and field
// order is free. Signed header names are lower-cased and may not repeat. The
// list reads host, optionally content-type, then x-opentoken-date, followed by
// any extra headers.
func ParseAuthorization(raw string) (Authorization, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), " ")
	if !ok || scheme != Scheme {
		return Authorization{}, ErrMalformedAuthorization
	}

	var auth Authorization
	seen := make(map[string]bool, 3)
	for _, part := range strings.Split(rest, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || value == "" || seen[name] {
			return Authorization{}, ErrMalformedAuthorization
		}
		seen[name] = true

		switch name {
		case "AccessCode":
			auth.AccessCode = value
		case "SignedHeaders":
			headers, err := parseSignedHeaders(value)
			if err != nil {
				return Authorization{}, err
			}
			auth.SignedHeaders = headers
		case "Signature":
			auth.Signature = value
		default:
			return Authorization{}, ErrMalformedAuthorization
		}
	}

	if auth.AccessCode == "" || auth.Signature == "" || len(auth.SignedHeaders) == 0 {
		return Authorization{}, ErrMalformedAuthorization
	}
	return auth, nil
}

// fixedOrder ranks the standard headers; a signed list must start with them
// in this order and may carry further headers only after them.
var fixedOrder = map[string]int{"host": 0, "content-type": 1, "x-opentoken-date": 2}

func parseSignedHeaders(value string) ([]string, error) {
	parts := strings.Split(value, ";")
	headers := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	last := -1
	for _, p := range parts {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "" || seen[name] || strings.ContainsAny(name, ":\n\r ") {
			return nil, ErrMalformedAuthorization
		}
		rank, ok := fixedOrder[name]
		if !ok {
			rank = len(fixedOrder)
		}
		if rank < last || (ok && rank == last) {
			return nil, ErrMalformedAuthorization
		}
		last = rank
		seen[name] = true
		headers = append(headers, name)
	}
	for _, m := range mandatory {
		if !seen[m] {
			return nil, ErrMalformedAuthorization
		}
	}
	return headers, nil
}
