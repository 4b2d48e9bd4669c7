// Package auth guards the admin HTTP API.
//
// Two authenticators are provided: JWTAuthenticator accepts HMAC-signed
// bearer tokens, and APIKeyAuthenticator accepts static keys sent in
// X-API-Key. Chain tries them in order, and Middleware attaches the
// resulting Identity to the request context.
package auth
