package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Bus coordinates of the daemon. Only one process can own BusName.
const (
	BusName    = "org.shou.Vigilare"
	ObjectPath = "/org/shou/Vigilare"
	Interface  = "org.shou.Vigilare"

	StatusProperty = "Status"
)

// ErrInvalidUpdate is returned for update values the daemon refuses to apply.
var ErrInvalidUpdate = errors.New("invalid duration update")

// UpdateKind selects how an Update changes the deadline.
type UpdateKind string

const (
	// Add extends the deadline, or starts one from now when idle.
	Add UpdateKind = "add"
	// Sub shortens the deadline.
	Sub UpdateKind = "sub"
	// Set replaces the deadline with now + Duration.
	Set UpdateKind = "set"
)

// Update is a relative or absolute change to the wake deadline.
type Update struct {
	Kind     UpdateKind    `json:"kind"`
	Duration time.Duration `json:"duration"`
}

// AddUpdate, SubUpdate and SetUpdate build updates of the matching kind.
func AddUpdate(d time.Duration) Update { return Update{Kind: Add, Duration: d} }
func SubUpdate(d time.Duration) Update { return Update{Kind: Sub, Duration: d} }
func SetUpdate(d time.Duration) Update { return Update{Kind: Set, Duration: d} }

// Validate reports whether the update can be applied.
func (u Update) Validate() error {
	switch u.Kind {
	case Add, Sub, Set:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidUpdate, u.Kind)
	}
	if u.Duration < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidUpdate, u.Duration)
	}
	return nil
}

func (u Update) String() string {
	switch u.Kind {
	case Add:
		return "+" + u.Duration.String()
	case Sub:
		return "-" + u.Duration.String()
	default:
		return u.Duration.String()
	}
}

// UpdateFromWire decodes the (kind, nanoseconds) pair carried by the bus
// Update method.
func UpdateFromWire(kind string, nanos uint64) (Update, error) {
	if nanos > math.MaxInt64 {
		return Update{}, fmt.Errorf("%w: duration overflows", ErrInvalidUpdate)
	}
	u := Update{Kind: UpdateKind(kind), Duration: time.Duration(nanos)}
	if err := u.Validate(); err != nil {
		return Update{}, err
	}
	return u, nil
}

// Wire returns the bus encoding of u.
func (u Update) Wire() (string, uint64) {
	return string(u.Kind), uint64(u.Duration)
}

// Status is the observable projection of the daemon deadline.
type Status struct {
	Active bool `json:"active"`
	// WakeUntil is the deadline in UNIX epoch seconds, 0 when inactive.
	WakeUntil uint64 `json:"wake_until"`
}

// Remaining returns how long the deadline is still ahead of now.
func (s Status) Remaining(now time.Time) time.Duration {
	if !s.Active {
		return 0
	}
	until := time.Unix(int64(s.WakeUntil), 0)
	if !until.After(now) {
		return 0
	}
	return until.Sub(now)
}

// Report is the line a status watcher prints for each observed Status.
type Report struct {
	Active           bool    `json:"active"`
	RemainingSeconds *uint64 `json:"remaining_seconds"`
	Message          string  `json:"message"`
}

// NewReport renders s relative to now. The message is the remaining time in
// minutes, rounded up, e.g. "12m".
func NewReport(s Status, now time.Time) Report {
	r := Report{Active: s.Active}
	if !s.Active {
		return r
	}
	remaining := s.Remaining(now)
	secs := uint64(remaining / time.Second)
	r.RemainingSeconds = &secs
	r.Message = fmt.Sprintf("%dm", uint64(math.Ceil(remaining.Minutes())))
	return r
}

// NextCheck returns how long a watcher may sleep before the minute count in
// the report goes stale. The second result is false when the report never
// goes stale on its own.
func (r Report) NextCheck() (time.Duration, bool) {
	if r.RemainingSeconds == nil {
		return 0, false
	}
	secs := *r.RemainingSeconds
	if secs%60 == 0 {
		return time.Minute, true
	}
	return time.Duration(secs%60) * time.Second, true
}
