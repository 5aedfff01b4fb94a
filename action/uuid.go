package action

import "crypto/rand"

// NewGoalUUID returns a fresh random 16-byte goal identifier, RFC 4122
// version 4 stamped. spec.md leaves goal-id generation to the client ("may
// be any 16-byte identifier"); this is the client-side helper node.Client
// uses by default. No teacher or pack dependency provides UUID generation
// usable without adding a fresh import the corpus never pulls in directly,
// so this is a deliberate stdlib-only helper (see DESIGN.md).
func NewGoalUUID() [16]byte {
	var u [16]byte
	_, _ = rand.Read(u[:])
	u[6] = (u[6] & 0x0f) | 0x40 // version 4
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	return u
}
