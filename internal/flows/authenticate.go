package flows

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/opentoken/session"
	"github.com/MrEthical07/opentoken/signature"
)

// RunAuthenticate verifies the signature of r against the session named by
// its access code. Every failure other than a storage outage or an oversized
// body is reported as deps.Errors.Unauthorized.
func RunAuthenticate(ctx context.Context, r *http.Request, deps Deps) (*session.Session, error) {
	deps.defaults()
	if deps.Sessions == nil || deps.Verifier == nil {
		return nil, deps.Errors.NotReady
	}

	auth, err := signature.FromRequest(r)
	if err != nil {
		return nil, rejected(ctx, "authorization", deps)
	}
	if err := deps.Verifier.CheckDate(r); err != nil {
		return nil, rejected(ctx, "date", deps)
	}

	sess, err := deps.Sessions.Get(ctx, auth.AccessCode)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, rejected(ctx, "session", deps)
	}
	if err != nil {
		return nil, deps.storeErr(err, deps.Errors.Unauthorized)
	}

	err = deps.Verifier.Verify(r, auth, []byte(sess.Secret))
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, signature.ErrBodyTooLarge):
		return nil, deps.Errors.TokenTooLarge
	case errors.Is(err, signature.ErrMismatch), errors.Is(err, signature.ErrMissingSignedHeader), errors.Is(err, signature.ErrInvalidDate):
		return nil, rejected(ctx, "signature", deps)
	case errors.Is(err, signature.ErrMalformedQuery):
		return nil, rejected(ctx, "query", deps)
	}
	return nil, rejected(ctx, "body", deps)
}

func rejected(ctx context.Context, reason string, deps Deps) error {
	deps.MetricInc(deps.Metrics.SignatureRejected)
	deps.Logger.DebugContext(ctx, "opentoken: signed request rejected", "reason", reason)
	return deps.Errors.Unauthorized
}
