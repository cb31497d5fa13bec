package flows

import "context"

// RunLogout deletes the session. Unknown sessions and sessions of another
// account are ignored.
func RunLogout(ctx context.Context, accountID, sessionID string, deps Deps) error {
	deps.defaults()
	if deps.Sessions == nil {
		return deps.Errors.NotReady
	}
	if accountID == "" || sessionID == "" {
		return deps.Errors.InvalidInput
	}
	if err := deps.Sessions.Delete(ctx, accountID, sessionID); err != nil {
		return deps.storeErr(err, nil)
	}
	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, accountID, sessionID, nil, nil)
	return nil
}
