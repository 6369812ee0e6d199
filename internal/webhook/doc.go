// Package webhook receives signed presence notifications from the live host.
//
// The host posts one JSON document each time a player enters or leaves a
// world. Clones track these as occupants, and an occupied clone is never
// unloaded, reset or exited from under its players.
//
// # Security Model
//
// - HMAC-SHA256 signatures verified using crypto/subtle
// - Body size limits enforced before the body is parsed
// - No signature details leaked in error responses (always generic 403)
// - Request logging excludes payloads
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  path: /hooks/presence
//	  secret: ${WORLDCLONE_WEBHOOK_SECRET}
//	  signature_header: X-Worldclone-Signature
//	  max_body_size: 64KB
//
// # Request Flow
//
//  1. HTTP POST arrives at the configured path
//  2. Body size checked (413 if too large)
//  3. HMAC-SHA256 of the body compared with the signature header (403 on mismatch)
//  4. {"event":"join"|"leave","world":"design_alice","player":"bob"} applied
//  5. 200 with the world's occupant count
//
// Worlds that are not clones are acknowledged and ignored.
package webhook
