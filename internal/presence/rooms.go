package presence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chatlink/chatlink/internal/types"
)

// Room keys. Direct chats are keyed by the sorted user pair so both
// participants derive the same key; group chats are keyed by group id.
// The two namespaces never collide.

func DirectRoom(a, b types.UserID) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("d:%d-%d", a, b)
}

func GroupRoom(id types.GroupID) string {
	return fmt.Sprintf("g:%d", id)
}

// ParseGroupRoom returns the group id for a group-room key, or false
// for direct-room keys.
func ParseGroupRoom(roomId string) (types.GroupID, bool) {
	raw, ok := strings.CutPrefix(roomId, "g:")
	if !ok {
		return 0, false
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return types.GroupID(id), true
}
