package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/opentoken/internal/stores"
	"github.com/MrEthical07/opentoken/otp"
)

// RunRotateMFA verifies code against the current secret, demotes it to
// previous and provisions a new current secret. Devices still holding the
// old secret keep working inside the previous secret's drift window until
// the next rotation.
func RunRotateMFA(ctx context.Context, accountID, code string, deps Deps) (*otp.Provisioning, error) {
	deps.defaults()
	if !deps.ready() {
		return nil, deps.Errors.NotReady
	}
	if accountID == "" || code == "" {
		return nil, deps.Errors.InvalidInput
	}

	acct, err := deps.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, deps.storeErr(err, deps.Errors.UnknownAccount)
	}

	res, err := deps.OTP.VerifyRotation(ctx, otp.Keys{
		Current:        acct.MFA.Current,
		CurrentCounter: acct.MFA.CurrentCounter,
	}, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}
	if !res.OK {
		deps.EmitAudit(ctx, deps.Events.MFARotated, false, accountID, "", deps.Errors.InvalidCredentials, nil)
		return nil, deps.Errors.InvalidCredentials
	}

	prov, err := deps.OTP.GenerateSecret(acct.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}

	_, err = deps.Accounts.Update(ctx, accountID, func(a *stores.Account) error {
		if err := advanceCounter(a, res); err != nil {
			return err
		}
		a.MFA = stores.MFAState{
			Current:         prov.Secret,
			Previous:        a.MFA.Current,
			PreviousCounter: a.MFA.CurrentCounter,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errReplay) {
			return nil, deps.Errors.InvalidCredentials
		}
		return nil, deps.storeErr(err, deps.Errors.UnknownAccount)
	}

	deps.MetricInc(deps.Metrics.MFARotated)
	deps.EmitAudit(ctx, deps.Events.MFARotated, true, accountID, "", nil, nil)
	return prov, nil
}
