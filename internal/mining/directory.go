package mining

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrUnknownUser is returned by InMemoryUserDirectory for users it has
// never seen.
var ErrUnknownUser = errors.New("unknown user")

// UserDirectory enumerates the users to mine and where they live.
//
// Timezones are read on every scheduling decision, never cached, so a
// profile change takes effect on the next tick.
type UserDirectory interface {
	// ListActiveUsers returns the IDs of every user that should be mined.
	ListActiveUsers(ctx context.Context) ([]string, error)

	// GetUserTimezone returns the user's IANA timezone name.
	GetUserTimezone(ctx context.Context, userID string) (string, error)
}

type userEntry struct {
	timezone string
	active   bool
}

// InMemoryUserDirectory is a UserDirectory backed by a map.
type InMemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]userEntry
}

// NewInMemoryUserDirectory creates an empty directory.
func NewInMemoryUserDirectory() *InMemoryUserDirectory {
	return &InMemoryUserDirectory{users: make(map[string]userEntry)}
}

// Set adds or replaces a user.
func (d *InMemoryUserDirectory) Set(userID, timezone string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[userID] = userEntry{timezone: timezone, active: active}
}

// ListActiveUsers implements UserDirectory.
func (d *InMemoryUserDirectory) ListActiveUsers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.users))
	for id, u := range d.users {
		if u.active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetUserTimezone implements UserDirectory.
func (d *InMemoryUserDirectory) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	return u.timezone, nil
}
