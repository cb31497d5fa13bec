// Package middleware adapts opentoken.Engine request signing to net/http.
//
// [RequireSignature] verifies the Authorization header of every request and
// stores the caller with opentoken.WithPrincipal; handlers read it back with
// opentoken.PrincipalFromContext. [OptionalSignature] admits unsigned
// requests for routes that also serve anonymous readers. [Status] maps
// engine errors onto HTTP status codes.
//
// The package makes no authentication decisions of its own.
package middleware
