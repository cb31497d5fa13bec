package signature

import (
	"net/http"
	"time"
)

// Signer signs outgoing requests with a session's access code and secret.
type Signer struct {
	AccessCode string
	Secret     []byte
	// Headers is the list to sign; nil means DefaultSignedHeaders. Optional
	// headers absent from the request are left out of the list.
	Headers []string
	Now     func() time.Time
}

// Sign sets X-OpenToken-Date when missing and the Authorization header.
// The body is read and replaced with an identical reader.
func (s *Signer) Sign(r *http.Request) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if r.Header.Get(HeaderDate) == "" {
		r.Header.Set(HeaderDate, now().UTC().Format(time.RFC3339))
	}

	body, err := readBody(r, 0)
	if err != nil {
		return err
	}

	headers := s.Headers
	if headers == nil {
		headers = DefaultSignedHeaders
	}
	signed := make([]string, 0, len(headers))
	for _, name := range headers {
		if _, ok := headerValue(r, name); ok || isMandatory(name) {
			signed = append(signed, name)
		}
	}

	canonical, err := CanonicalString(r, body, signed)
	if err != nil {
		return err
	}

	auth := Authorization{
		AccessCode:    s.AccessCode,
		SignedHeaders: signed,
		Signature:     Compute(s.Secret, canonical),
	}
	r.Header.Set(HeaderAuthorization, auth.String())
	return nil
}

func isMandatory(name string) bool {
	for _, m := range mandatory {
		if m == name {
			return true
		}
	}
	return false
}
