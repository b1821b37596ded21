package reqreg

import "github.com/google/uuid"

// IDGenerator produces printable request ids with negligible collision
// risk. Pluggable so tests can supply deterministic ids.
type IDGenerator interface {
	NextID() string
}

// UUIDGenerator is the default IDGenerator, backed by random (v4) UUIDs.
type UUIDGenerator struct{}

// NextID returns a new random UUID string.
func (UUIDGenerator) NextID() string {
	return uuid.NewString()
}
