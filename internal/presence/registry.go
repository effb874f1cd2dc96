package presence

import (
	"log"
	"sync"

	"github.com/chatlink/chatlink/internal/types"
)

// Registry tracks which users have live gateway connections. A user may
// hold several handles at once (multiple tabs or devices); they count
// as online while at least one handle remains.
type Registry struct {
	log *log.Logger

	mu      sync.Mutex
	handles map[types.UserID]map[string]struct{}
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		log:     logger,
		handles: make(map[types.UserID]map[string]struct{}),
	}
}

// Connect registers handle under userId and reports whether this was
// the user's first live connection. Registering a handle that is
// already present is a no-op.
func (r *Registry) Connect(userId types.UserID, handle string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handles[userId]
	if !ok {
		set = make(map[string]struct{})
		r.handles[userId] = set
	}

	if _, dup := set[handle]; dup {
		r.log.Printf("handle %q already registered for user %d", handle, userId)
		return false
	}

	set[handle] = struct{}{}
	return len(set) == 1
}

// Disconnect removes handle and reports whether the user's last
// connection just dropped. Unknown users and unknown handles are
// tolerated; transports have been seen firing disconnect twice.
func (r *Registry) Disconnect(userId types.UserID, handle string) (offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handles[userId]
	if !ok {
		return false
	}

	if _, ok := set[handle]; !ok {
		return false
	}

	delete(set, handle)
	if len(set) == 0 {
		delete(r.handles, userId)
		return true
	}

	return false
}

func (r *Registry) IsOnline(userId types.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.handles[userId]) > 0
}

// Handles returns the user's live connection handles, one per device.
func (r *Registry) Handles(userId types.UserID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.handles[userId]
	if len(set) == 0 {
		return nil
	}

	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// ConnectionCount reports the number of live handles for userId.
func (r *Registry) ConnectionCount(userId types.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.handles[userId])
}

// CountOnline reports how many of the given users are currently online.
func (r *Registry) CountOnline(userIds []types.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, id := range userIds {
		if len(r.handles[id]) > 0 {
			n++
		}
	}
	return n
}
