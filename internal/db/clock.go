package db

import "time"

// Option configures a store.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides how row ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: newUUID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// nextStamp never lets a timestamp go backwards relative to prev, so ordering
// by created_at stays stable even if the wall clock steps back.
func nextStamp(now time.Time, prev int64) int64 {
	n := toNanos(now)
	if n < prev {
		return prev
	}
	return n
}
