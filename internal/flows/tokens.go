package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/opentoken/internal/stores"
)

const defaultContentType = "application/octet-stream"

// TokenOptions are the caller-chosen attributes of a stored token.
type TokenOptions struct {
	ContentType string
	Public      bool
	Lifetime    time.Duration
}

// RunCreateToken stores data for accountID.
func RunCreateToken(ctx context.Context, accountID string, data []byte, opts TokenOptions, deps Deps) (*stores.Token, error) {
	deps.defaults()
	if deps.Tokens == nil {
		return nil, deps.Errors.NotReady
	}
	if accountID == "" || opts.Lifetime < 0 {
		return nil, deps.Errors.InvalidInput
	}
	if opts.ContentType == "" {
		opts.ContentType = defaultContentType
	}

	tok, err := deps.Tokens.Create(ctx, accountID, data, opts.ContentType, opts.Public, opts.Lifetime)
	if err != nil {
		return nil, deps.storeErr(err, deps.Errors.TokenNotFound)
	}
	deps.MetricInc(deps.Metrics.TokenCreated)
	deps.EmitAudit(ctx, deps.Events.TokenCreated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"token_id": tok.ID}
	})
	return tok, nil
}

// RunGetToken returns the token when the caller owns it or it is public.
// Absent, expired and private foreign tokens all yield deps.Errors.TokenNotFound.
func RunGetToken(ctx context.Context, callerAccountID, ownerAccountID, tokenID string, deps Deps) (*stores.Token, error) {
	deps.defaults()
	if deps.Tokens == nil {
		return nil, deps.Errors.NotReady
	}
	if ownerAccountID == "" || tokenID == "" {
		return nil, deps.Errors.InvalidInput
	}

	tok, err := deps.Tokens.Get(ctx, ownerAccountID, tokenID)
	if err != nil {
		return nil, deps.storeErr(err, deps.Errors.TokenNotFound)
	}
	if !tok.Public && callerAccountID != ownerAccountID {
		return nil, deps.Errors.TokenNotFound
	}
	return tok, nil
}

// RunDeleteToken removes a token of accountID. Deleting twice succeeds.
func RunDeleteToken(ctx context.Context, accountID, tokenID string, deps Deps) error {
	deps.defaults()
	if deps.Tokens == nil {
		return deps.Errors.NotReady
	}
	if accountID == "" || tokenID == "" {
		return deps.Errors.InvalidInput
	}
	if err := deps.Tokens.Delete(ctx, accountID, tokenID); err != nil {
		return deps.storeErr(err, nil)
	}
	deps.MetricInc(deps.Metrics.TokenDeleted)
	deps.EmitAudit(ctx, deps.Events.TokenDeleted, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"token_id": tokenID}
	})
	return nil
}
