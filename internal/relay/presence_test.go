package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

func TestPublisherBroadcastsFullSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("c1", "alice", KindGuest)
	reg.Bind("c2", "bob", KindGuest)
	reg.Bind("c3", "bob", KindGuest)
	out := newRecordingSender("c1", "c2", "c3", "unbound")

	pub := NewPublisher(reg, out)
	assert.Equal(t, []string{"alice", "bob"}, pub.Snapshot())

	n, err := pub.Publish()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got := decodeOne(t, out.received("unbound")[0]).(protocol.UserList)
	assert.Equal(t, []string{"alice", "bob"}, got.Addresses)
}

func TestPublisherEmptyListIsNotNull(t *testing.T) {
	out := newRecordingSender("c1")
	_, err := NewPublisher(NewRegistry(), out).Publish()
	require.NoError(t, err)

	frames := out.received("c1")
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"event":"userList","data":{"addresses":[]}}`, string(frames[0]))
}
