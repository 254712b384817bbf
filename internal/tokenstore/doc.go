// Package tokenstore persists the editor login session produced by the PKCE
// handoff.
//
// Three backends are available:
//   - File: a 0600 file written with temp file + rename
//   - Env: read-only, for sessions injected by an external secret manager
//   - Keyring: OS credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//
// Backends store an opaque string; Session encodes to and decodes from it.
// A bare access token (as commonly placed in an env variable) decodes to a
// Session with only AccessToken set.
package tokenstore
