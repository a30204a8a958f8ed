package nodegraph

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewGraphUUID returns a random GraphID taken from the first four bytes of
// a freshly generated UUID, as an alternative to hand-assigning one. Only
// those 32 bits are kept, so unlike the full UUID the result is not
// guaranteed unique across graphs or processes.
func NewGraphUUID() GraphID {
	id := uuid.New()
	return GraphID(binary.LittleEndian.Uint32(id[:4]))
}
