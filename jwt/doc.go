// Package jwt signs and parses the short-lived tokens embedded in emailed
// confirmation links. A link token carries a registration id and its
// confirmation code so a single click can confirm the registration.
package jwt
