package flows

import (
	"context"
	"net/http"

	"github.com/MrEthical07/opentoken/internal/stores"
	"github.com/MrEthical07/opentoken/otp"
	"github.com/MrEthical07/opentoken/session"
)

// Service is the flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	deps.defaults()
	return Service{deps: deps}
}

// Initialized reports whether the service has every store it needs.
func (s Service) Initialized() bool {
	return s.deps.ready()
}

func (s Service) Register(ctx context.Context, email string) (*RegisterResult, error) {
	return RunRegister(ctx, email, s.deps)
}

func (s Service) Secure(ctx context.Context, regID, passwordHash string, codes MFACodes) error {
	return RunSecure(ctx, regID, passwordHash, codes, s.deps)
}

func (s Service) Confirm(ctx context.Context, regID, code string) (string, error) {
	return RunConfirm(ctx, regID, code, s.deps)
}

func (s Service) ConfirmLink(ctx context.Context, token string) (string, error) {
	return RunConfirmLink(ctx, token, s.deps)
}

func (s Service) ResendConfirmation(ctx context.Context, regID string) error {
	return RunResendConfirmation(ctx, regID, s.deps)
}

func (s Service) LoginHashConfig(ctx context.Context, accountID string) (*LoginHashConfig, error) {
	return RunLoginHashConfig(ctx, accountID, s.deps)
}

func (s Service) Login(ctx context.Context, accountID string, req LoginRequest) (*SessionResult, error) {
	return RunLogin(ctx, accountID, req, s.deps)
}

func (s Service) Logout(ctx context.Context, accountID, sessionID string) error {
	return RunLogout(ctx, accountID, sessionID, s.deps)
}

func (s Service) RotateMFA(ctx context.Context, accountID, code string) (*otp.Provisioning, error) {
	return RunRotateMFA(ctx, accountID, code, s.deps)
}

func (s Service) Authenticate(ctx context.Context, r *http.Request) (*session.Session, error) {
	return RunAuthenticate(ctx, r, s.deps)
}

func (s Service) CreateToken(ctx context.Context, accountID string, data []byte, opts TokenOptions) (*stores.Token, error) {
	return RunCreateToken(ctx, accountID, data, opts, s.deps)
}

func (s Service) GetToken(ctx context.Context, callerAccountID, ownerAccountID, tokenID string) (*stores.Token, error) {
	return RunGetToken(ctx, callerAccountID, ownerAccountID, tokenID, s.deps)
}

func (s Service) DeleteToken(ctx context.Context, accountID, tokenID string) error {
	return RunDeleteToken(ctx, accountID, tokenID, s.deps)
}
