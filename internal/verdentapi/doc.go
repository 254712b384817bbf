// Package verdentapi is a client for the Verdent passport and user-center APIs.
//
// The passport service implements a PKCE code exchange that deviates from OAuth2
// in a few ways:
//   - The bearer token authenticating the authorization request travels as a
//     "token" cookie, not an Authorization header
//   - Requests and responses are JSON, wrapped in an {errCode, errMsg, data} envelope
//   - A non-zero errCode is a failure even when the HTTP status is 2xx
//
// # Handshake
//
//	params, _ := pkce.Generate()
//	code, err := client.RequestAuthCode(ctx, bearer, params)
//	accessToken, err := client.ExchangeToken(ctx, code, params.CodeVerifier)
//
// # Retries
//
// FetchProfileWithRetry retries network failures and HTTP 5xx responses with a
// linear backoff (1s, 2s, 3s, ...). HTTP 4xx and application errors abort
// immediately. Classify maps any client error to a user-facing message.
package verdentapi
