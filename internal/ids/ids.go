package ids

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestID returns a globally unique identifier for correlating a request
// across logs and audit entries.
func RequestID() string {
	return ksuid.New().String()
}

// Sequencer hands out strictly increasing 64-bit ids. Ids generated by one
// Sequencer sort in generation order.
type Sequencer struct {
	node *snowflake.Node
}

// NewSequencer builds a Sequencer for the given node number (0..1023).
func NewSequencer(node int64) (*Sequencer, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("ids: snowflake node %d: %w", node, err)
	}
	return &Sequencer{node: n}, nil
}

// Next returns the next id.
func (s *Sequencer) Next() int64 {
	return s.node.Generate().Int64()
}
