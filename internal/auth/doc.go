// Package auth provides authentication for strand-relay.
//
// # Authentication Method
//
// Clients authenticate with JWT bearer tokens signed with HS256 using the
// configured jwt_secret. The token travels in the standard Authorization
// header on every request, so both the submit endpoint and the event stream
// are authenticated before any session lookup occurs.
//
// # Principal System
//
// Tokens carry the principal ID in the "sub" claim. On every request the
// middleware verifies the signature, loads the principal from the store, and
// checks its status:
//
//   - approved: request proceeds
//   - pending: 403, awaiting approval
//   - revoked: 403, permanently rejected
//
// The resulting AuthContext is attached to the request context and can be
// read in handlers via FromContext.
//
// # Token Management
//
// API tokens for principals:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(principalID, 30*24*time.Hour)
//	principalID, err := verifier.Verify(token)
//
// # Disabled Auth
//
// When no jwt_secret is configured, NoAuthMiddleware injects an anonymous
// AuthContext instead. This is a development convenience; the serve command
// logs a warning when it is active.
package auth
