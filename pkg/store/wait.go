package store

import (
	"context"
	"fmt"
)

// Condition is evaluated against an entry's fields (nil when absent).
type Condition func(fields map[string]string) bool

// WaitUntil blocks until cond holds for the entry or ctx ends.
// It subscribes first and then reads the current value, so a change
// between the read and the subscription cannot be missed.
func WaitUntil(ctx context.Context, s Store, db DB, table, key string, cond Condition) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.Subscribe(ctx, db, table)
	if err != nil {
		return err
	}

	current, err := s.Get(ctx, db, table, key)
	if err != nil {
		return err
	}
	if cond(current) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s %s: %w", db, RedisKey(db, table, key), ctx.Err())
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("waiting for %s %s: %w", db, RedisKey(db, table, key), ctx.Err())
			}
			if e.Key == key && cond(e.Fields) {
				return nil
			}
		}
	}
}

// WaitFor waits until every field in want has the given value.
func WaitFor(ctx context.Context, s Store, db DB, table, key string, want map[string]string) error {
	return WaitUntil(ctx, s, db, table, key, HasFields(want))
}

// WaitAbsent waits until the entry is deleted.
func WaitAbsent(ctx context.Context, s Store, db DB, table, key string) error {
	return WaitUntil(ctx, s, db, table, key, func(fields map[string]string) bool {
		return fields == nil
	})
}

// HasFields returns a Condition matching entries that carry want.
func HasFields(want map[string]string) Condition {
	return func(fields map[string]string) bool {
		if fields == nil {
			return false
		}
		for k, v := range want {
			if fields[k] != v {
				return false
			}
		}
		return true
	}
}
