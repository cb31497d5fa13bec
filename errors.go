package opentoken

import "errors"

// Error categories. Every specific sentinel below matches one or more of
// them with errors.Is, so callers can branch on the category alone.
var (
	// ErrValidation covers empty or malformed input. Nothing is persisted.
	ErrValidation = errors.New("opentoken: validation failed")
	// ErrAuthentication covers password, challenge, one-time code, link and
	// signature failures. It never says which factor failed.
	ErrAuthentication = errors.New("opentoken: authentication failed")
	// ErrNotFound covers absent and expired records.
	ErrNotFound = errors.New("opentoken: not found")
	// ErrStorage wraps backend failures. The core does not retry them.
	ErrStorage = errors.New("opentoken: storage failure")
	// ErrMail is returned when a confirmation email could not be sent. The
	// registration it belongs to stays valid.
	ErrMail = errors.New("opentoken: mail delivery failed")
)

type categoryError struct {
	msg  string
	cats []error
}

func (e *categoryError) Error() string   { return e.msg }
func (e *categoryError) Unwrap() []error { return e.cats }

func categorized(msg string, cats ...error) error {
	return &categoryError{msg: msg, cats: cats}
}

var (
	// ErrEngineNotReady is returned by every method of an Engine that was not built by Builder.
	ErrEngineNotReady = errors.New("opentoken: engine not initialized")

	ErrInvalidInput       = categorized("opentoken: invalid input", ErrValidation)
	ErrInvalidCredentials = categorized("opentoken: invalid credentials", ErrAuthentication)
	// ErrUnknownRegistration is both a lookup miss and an authentication
	// failure: callers outside the registration flow cannot tell them apart.
	ErrUnknownRegistration = categorized("opentoken: unknown registration", ErrAuthentication, ErrNotFound)
	ErrUnknownAccount      = categorized("opentoken: unknown account", ErrAuthentication, ErrNotFound)
	ErrNotSecured          = categorized("opentoken: registration not secured", ErrValidation)
	ErrAlreadySecured      = categorized("opentoken: registration already secured", ErrValidation)
	ErrInvalidLink         = categorized("opentoken: invalid confirmation link", ErrAuthentication)
	ErrLinksDisabled       = categorized("opentoken: confirmation links disabled", ErrValidation)
	ErrRateLimited         = categorized("opentoken: too many attempts", ErrAuthentication)
	ErrUnauthorized        = categorized("opentoken: unauthorized", ErrAuthentication)
	// ErrTokenNotFound also covers private tokens of another account.
	ErrTokenNotFound = categorized("opentoken: token not found", ErrNotFound)
	ErrTokenTooLarge = categorized("opentoken: token too large", ErrValidation)
)
