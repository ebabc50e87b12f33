// Package sentinel is an embeddable session-security core: Argon2id password
// verification, short-lived JWT access tokens, refresh-token rotation with
// family-wide reuse detection, trusted-device fingerprinting, TOTP second
// factor, and a one-time code exchange for OAuth callback flows.
//
// The entry point is the Engine, built via the Builder:
//
//	engine, err := sentinel.New().
//		WithConfig(cfg).
//		WithRedis(client, "myapp").
//		WithUserProvider(users).
//		Build()
//
// Callers implement UserProvider to connect their user database; everything
// token-shaped is handled by the engine. Refresh tokens rotate on every use:
// presenting a token twice revokes its entire family on the assumption that
// one of the two presenters is an attacker.
package sentinel
