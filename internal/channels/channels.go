package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Client pushes product projections to one external sales channel. Pushes
// must be idempotent on the channel side: the worker may send the same
// projection more than once.
type Client interface {
	Name() string
	PushOne(ctx context.Context, productID int64, p Projection) (bool, error)
	PushBatch(ctx context.Context, batch map[int64]Projection) (map[int64]bool, error)
	Delete(ctx context.Context, productID int64) (bool, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// UnavailableError marks a transient failure: the channel was overloaded,
// unreachable or timed out. Status is zero for network-level failures.
type UnavailableError struct {
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *UnavailableError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("channel unavailable (status %d): %v", e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("channel unavailable (status %d)", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("channel unavailable: %v", e.Err)
	default:
		return "channel unavailable"
	}
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err carries an *UnavailableError.
func IsUnavailable(err error) (*UnavailableError, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// RejectedError is a permanent failure: the channel refused the request.
// Body holds the (truncated) response for operators.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("channel rejected request: status %d", e.Status)
	}
	return fmt.Sprintf("channel rejected request: status %d: %s", e.Status, e.Body)
}

type Registry struct {
	byName map[string]Client
}

func NewRegistry(clients ...Client) Registry {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		if c == nil {
			continue
		}
		m[c.Name()] = c
	}
	return Registry{byName: m}
}

func (r Registry) Get(name string) (Client, bool) {
	if r.byName == nil {
		return nil, false
	}
	c, ok := r.byName[name]
	return c, ok
}

func (r Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
