package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatlink/chatlink/internal/testutil"
	"github.com/chatlink/chatlink/internal/types"
)

func TestMembership_JoinLeave(t *testing.T) {
	m := NewMembership(testutil.TestLogger(t))

	room := DirectRoom(1, 2)
	m.Join(room, 1)
	m.Join(room, 2)

	assert.True(t, m.IsPresent(room, 1))
	assert.True(t, m.IsPresent(room, 2))
	assert.ElementsMatch(t, []types.UserID{1, 2}, m.Present(room))

	m.Leave(room, 1)
	assert.False(t, m.IsPresent(room, 1))
	assert.ElementsMatch(t, []types.UserID{2}, m.Present(room))

	m.Leave(room, 2)
	assert.Nil(t, m.Present(room), "empty room should be pruned")
}

func TestMembership_JoinIdempotent(t *testing.T) {
	m := NewMembership(testutil.TestLogger(t))

	m.Join("g:1", 1)
	m.Join("g:1", 1)
	assert.ElementsMatch(t, []types.UserID{1}, m.Present("g:1"))

	m.Leave("g:1", 1)
	assert.False(t, m.IsPresent("g:1", 1), "one leave undoes repeated joins")
}

func TestMembership_LeaveUnknown(t *testing.T) {
	m := NewMembership(testutil.TestLogger(t))

	m.Leave("g:9", 1)
	assert.False(t, m.IsPresent("g:9", 1))
}

func TestMembership_PurgeUser(t *testing.T) {
	m := NewMembership(testutil.TestLogger(t))

	m.Join("g:1", 1)
	m.Join("g:2", 1)
	m.Join(DirectRoom(1, 2), 1)
	m.Join("g:1", 2)

	affected := m.PurgeUser(1)
	assert.ElementsMatch(t, []string{"g:1", "g:2", DirectRoom(1, 2)}, affected)

	assert.False(t, m.IsPresent("g:1", 1))
	assert.False(t, m.IsPresent("g:2", 1))
	assert.True(t, m.IsPresent("g:1", 2), "purge must not touch other users")

	assert.Nil(t, m.PurgeUser(1), "second purge finds nothing")
}

func TestRoomKeys(t *testing.T) {
	assert.Equal(t, "d:1-2", DirectRoom(1, 2))
	assert.Equal(t, "d:1-2", DirectRoom(2, 1), "both participants derive the same key")
	assert.Equal(t, "g:42", GroupRoom(42))

	id, ok := ParseGroupRoom("g:42")
	assert.True(t, ok)
	assert.Equal(t, types.GroupID(42), id)

	_, ok = ParseGroupRoom("d:1-2")
	assert.False(t, ok)

	_, ok = ParseGroupRoom("g:abc")
	assert.False(t, ok)
}
