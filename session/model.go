package session

// Session is an authenticated login. ID doubles as the access code clients
// put in signed requests; Secret is the HMAC key for those signatures.
type Session struct {
	SchemaVersion uint8

	ID        string
	AccountID string
	Secret    string

	CreatedAt int64
	ExpiresAt int64
}
