package daemon

import (
	"time"

	"github.com/shou/vigilare/internal/protocol"
)

// Apply returns the deadline that results from applying u to current at
// now. The zero time means no deadline. The result is not normalized: it can
// lie in the past, which Normalize turns into no deadline.
func Apply(current time.Time, u protocol.Update, now time.Time) time.Time {
	switch u.Kind {
	case protocol.Add:
		if current.IsZero() {
			return now.Add(u.Duration)
		}
		return current.Add(u.Duration)
	case protocol.Sub:
		if current.IsZero() {
			return now
		}
		return current.Add(-u.Duration)
	default:
		return now.Add(u.Duration)
	}
}

// Normalize clears deadlines that are not after now.
func Normalize(deadline, now time.Time) time.Time {
	if deadline.IsZero() || !deadline.After(now) {
		return time.Time{}
	}
	return deadline
}
