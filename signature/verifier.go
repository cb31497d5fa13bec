package signature

import (
	"net/http"
	"time"
)

// Verifier checks signed requests. Secret lookup is the caller's job: parse
// the header with FromRequest, resolve the access code, then call Verify.
type Verifier struct {
	maxSkew time.Duration
	maxBody int64
	now     func() time.Time
}

// NewVerifier returns a Verifier accepting dates within maxSkew of now and
// bodies up to maxBody bytes (0 disables the cap).
func NewVerifier(maxSkew time.Duration, maxBody int64) *Verifier {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &Verifier{maxSkew: maxSkew, maxBody: maxBody, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// CheckDate validates the X-OpenToken-Date header against the skew window.
func (v *Verifier) CheckDate(r *http.Request) error {
	raw := r.Header.Get(HeaderDate)
	if raw == "" {
		return ErrMissingSignedHeader
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return ErrInvalidDate
	}
	delta := v.now().Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > v.maxSkew {
		return ErrInvalidDate
	}
	return nil
}

// Verify recomputes the signature of r under secret and compares it with
// auth.Signature in constant time. The request body stays readable.
func (v *Verifier) Verify(r *http.Request, auth Authorization, secret []byte) error {
	if err := v.CheckDate(r); err != nil {
		return err
	}

	body, err := readBody(r, v.maxBody)
	if err != nil {
		return err
	}

	canonical, err := CanonicalString(r, body, auth.SignedHeaders)
	if err != nil {
		return err
	}
	if !Equal(Compute(secret, canonical), auth.Signature) {
		return ErrMismatch
	}
	return nil
}
