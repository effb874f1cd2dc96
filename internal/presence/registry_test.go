package presence

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatlink/chatlink/internal/testutil"
	"github.com/chatlink/chatlink/internal/types"
)

func TestRegistry_ConnectDisconnect(t *testing.T) {
	reg := NewRegistry(testutil.TestLogger(t))

	assert.True(t, reg.Connect(1, "h1"), "first connection should report first=true")
	assert.False(t, reg.Connect(1, "h2"), "second connection should not report first")
	assert.True(t, reg.IsOnline(1))
	assert.Equal(t, 2, reg.ConnectionCount(1))

	assert.False(t, reg.Disconnect(1, "h1"), "user still has a live handle")
	assert.True(t, reg.IsOnline(1))
	assert.True(t, reg.Disconnect(1, "h2"), "last handle dropped, should report offline")
	assert.False(t, reg.IsOnline(1))
	assert.Equal(t, 0, reg.ConnectionCount(1))
}

func TestRegistry_DuplicateHandleIsNoop(t *testing.T) {
	reg := NewRegistry(testutil.TestLogger(t))

	assert.True(t, reg.Connect(7, "h1"))
	assert.False(t, reg.Connect(7, "h1"), "re-registering the same handle must not count")
	assert.Equal(t, 1, reg.ConnectionCount(7))

	assert.True(t, reg.Disconnect(7, "h1"), "single disconnect must take the user offline")
}

func TestRegistry_DisconnectUnknown(t *testing.T) {
	reg := NewRegistry(testutil.TestLogger(t))

	assert.False(t, reg.Disconnect(1, "nope"), "unknown user disconnect is tolerated")

	reg.Connect(1, "h1")
	assert.False(t, reg.Disconnect(1, "nope"), "unknown handle disconnect is tolerated")
	assert.True(t, reg.IsOnline(1), "unknown handle must not affect live handles")

	assert.True(t, reg.Disconnect(1, "h1"))
	assert.False(t, reg.Disconnect(1, "h1"), "double disconnect reports offline only once")
}

func TestRegistry_SingleOnlineOfflineTransition(t *testing.T) {
	reg := NewRegistry(testutil.TestLogger(t))

	var online, offline int
	for i := 0; i < 5; i++ {
		if reg.Connect(3, fmt.Sprintf("h%d", i)) {
			online++
		}
	}
	for i := 0; i < 5; i++ {
		if reg.Disconnect(3, fmt.Sprintf("h%d", i)) {
			offline++
		}
	}

	assert.Equal(t, 1, online, "n connects must yield exactly one online transition")
	assert.Equal(t, 1, offline, "n disconnects must yield exactly one offline transition")
}

func TestRegistry_Handles(t *testing.T) {
	reg := NewRegistry(testutil.TestLogger(t))

	assert.Nil(t, reg.Handles(1), "offline user has no handles")

	reg.Connect(1, "h1")
	reg.Connect(1, "h2")
	assert.ElementsMatch(t, []string{"h1", "h2"}, reg.Handles(1))
}

func TestRegistry_CountOnline(t *testing.T) {
	reg := NewRegistry(testutil.TestLogger(t))

	reg.Connect(1, "a")
	reg.Connect(2, "b")

	assert.Equal(t, 2, reg.CountOnline([]types.UserID{1, 2, 3}))
	assert.Equal(t, 0, reg.CountOnline(nil))

	reg.Disconnect(2, "b")
	assert.Equal(t, 1, reg.CountOnline([]types.UserID{1, 2, 3}))
}
