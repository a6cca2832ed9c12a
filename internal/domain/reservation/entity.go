package reservation

import (
	"time"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCommitted Status = "COMMITTED"
	StatusReleased  Status = "RELEASED"
	StatusExpired   Status = "EXPIRED"
)

// transitions lists the allowed targets of each status. Terminal states have none.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCommitted, StatusReleased, StatusExpired},
	StatusCommitted: {},
	StatusReleased:  {},
	StatusExpired:   {},
}

func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is one of the four known statuses.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// CanTransitionTo reports whether s may move to target. Only PENDING has
// outgoing transitions.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Reservation is a time-bounded hold of Quantity units of SKU.
// Its quantity counts toward the SKU's reserved total only while Pending.
type Reservation struct {
	ID        string
	SKU       string
	Quantity  int
	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time
	SettledAt *time.Time
}

// New returns a pending reservation that expires ttl after now.
func New(id, sku string, quantity int, now time.Time, ttl time.Duration) *Reservation {
	return &Reservation{
		ID:        id,
		SKU:       sku,
		Quantity:  quantity,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsPending reports whether r still holds stock.
func (r *Reservation) IsPending() bool {
	return r.Status == StatusPending
}

// IsExpired reports whether the deadline has been reached at now.
// A reservation can be committed only while now < ExpiresAt.
func (r *Reservation) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TransitionTo moves r to target, recording the settlement time.
func (r *Reservation) TransitionTo(target Status, at time.Time) error {
	if !r.Status.CanTransitionTo(target) {
		return ErrStatusConflict
	}
	r.Status = target
	r.SettledAt = &at
	return nil
}
