// Package auth locates and verifies bearer tokens for plangate.
//
// # Token Location
//
// A Locator searches an inbound request in a fixed order:
//
//   - Authorization: Bearer <token>. If present it always wins.
//   - The configured cookie names, in order. The first non-empty value wins.
//
// Absence is a normal outcome (ok=false), never an error. LocateMetadata
// applies the same order to gRPC metadata.
//
// # Two Decoding Tiers
//
// JWTVerifier is authoritative: it checks the HS256 signature against the
// configured secret, requires an unexpired exp claim, and only then returns
// a VerifiedIdentity. Failures are distinguished internally
// (ErrMalformedToken, ErrInvalidSignature, ErrExpiredToken, ErrMissingClaim)
// and all match ErrInvalidToken for external reporting.
//
// UnsafeDecoder parses the claims segment without checking the signature.
// It returns UnverifiedClaims, which nothing that authorizes will accept.
// It exists for the edge pre-router, which only decides whether a request
// plausibly has a session.
//
// # Auth Context
//
// After verification and account resolution, handlers read the result with:
//
//	ac := auth.FromContext(r.Context())
//	ac.Tier       // effective tier
//	ac.Account    // current account record
package auth
