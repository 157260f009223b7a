package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// recordingSender captures every frame delivered per connection.
type recordingSender struct {
	mu      sync.Mutex
	frames  map[ConnID][][]byte
	refuse  map[ConnID]bool
	open    []ConnID
	bcCount int
}

func newRecordingSender(open ...ConnID) *recordingSender {
	return &recordingSender{
		frames: make(map[ConnID][][]byte),
		refuse: make(map[ConnID]bool),
		open:   open,
	}
}

func (s *recordingSender) Send(id ConnID, frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse[id] {
		return false
	}
	s.frames[id] = append(s.frames[id], frame)
	return true
}

func (s *recordingSender) Broadcast(frame []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bcCount++
	for _, id := range s.open {
		s.frames[id] = append(s.frames[id], frame)
	}
	return len(s.open)
}

func (s *recordingSender) received(id ConnID) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames[id]...)
}

func decodeOne(t *testing.T, frame []byte) protocol.Outbound {
	t.Helper()
	out, err := protocol.DecodeOutbound(frame)
	require.NoError(t, err)
	return out
}
