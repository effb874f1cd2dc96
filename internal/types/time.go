package types

import "time"

// Now returns the current UTC time rounded to the millisecond, the
// resolution stored in the database and sent on the wire.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
