// Package auth supplies and checks the bearer credentials used on agent requests.
//
// # Token Supply
//
// The streaming client asks a TokenSource for a token before every request:
//
//   - StaticToken: a token from configuration.
//   - FileTokenSource: COVEN_TOKEN if set, otherwise ~/.config/coven/token
//     (or $XDG_CONFIG_HOME/coven/token). The file is re-read when it changes.
//
// JWTs whose exp claim has passed are rejected with ErrExpiredToken before a
// request is made. Opaque tokens are passed through unchanged.
//
// # Verification
//
// Agent backends (see cmd/fake-agent) protect their endpoint with
// HTTPAuthMiddleware and a Signer. Tokens are HS256 signed with the
// backend's secret, issued by "coven-combat" and carry the caller in the
// "sub" claim. Tokens without exp are refused:
//
//	signer := auth.NewSigner(secret)
//	token, _ := signer.Mint("combat-cli", 24*time.Hour)
//	mux.Handle("/api/chat/stream", auth.HTTPAuthMiddleware(signer)(handler))
package auth
