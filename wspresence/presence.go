// This package mirrors the authenticated identities of a websocket server into a presence store
// so other processes can query which users are online. Only Connected and Disconnected events of
// authenticated connections are mirrored: no message is ever relayed.
package wspresence

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/gbdevw/gowsengine/wsevents"
	"go.uber.org/zap"
)

// Presence store.
type Store interface {
	// Record that connID of userID is online.
	Add(ctx context.Context, userID string, connID string) error
	// Record that connID of userID is offline. The user is offline once its last connection is
	// removed.
	Remove(ctx context.Context, userID string, connID string) error
	// Return the connection IDs of userID.
	Connections(ctx context.Context, userID string) ([]string, error)
	// Return the IDs of the online users.
	Users(ctx context.Context) ([]string, error)
}

// # Description
//
// Subscribe to Connected and Disconnected events of bus and mirror authenticated connections into
// store. Store failures are logged and never affect the connection.
//
// # Inputs
//
//   - bus: Event bus of the websocket server.
//   - store: Presence store.
//   - timeout: Maximum duration of a store call. 0 disables the timeout.
//   - logger: Logger used to report store failures. If nil, a no-op logger is used.
//
// # Returns
//
// The subscription. Unsubscribe stops mirroring.
func Attach(bus *wsevents.Bus, store Store, timeout time.Duration, logger *zap.Logger) *wsevents.Subscription {
	if logger == nil {
		logger = zap.NewNop()
	}
	return bus.Subscribe(func(evt wsevents.Event) {
		if evt.UserID == "" {
			return
		}
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var err error
		if evt.Kind == wsevents.Connected {
			err = store.Add(ctx, evt.UserID, evt.ConnectionID)
		} else {
			err = store.Remove(ctx, evt.UserID, evt.ConnectionID)
		}
		if err != nil {
			logger.Warn("failed to update presence store",
				zap.Stringer("kind", evt.Kind),
				zap.String("user_id", evt.UserID),
				zap.String("connection_id", evt.ConnectionID),
				zap.Error(err))
		}
	}, wsevents.Connected, wsevents.Disconnected)
}

// In-memory presence store.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]mapset.Set
}

// Factory which creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]mapset.Set{}}
}

func (s *MemoryStore) Add(ctx context.Context, userID string, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, found := s.users[userID]
	if !found {
		set = mapset.NewThreadUnsafeSet()
		s.users[userID] = set
	}
	set.Add(connID)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, userID string, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, found := s.users[userID]
	if !found {
		return nil
	}
	set.Remove(connID)
	if set.Cardinality() == 0 {
		delete(s.users, userID)
	}
	return nil
}

func (s *MemoryStore) Connections(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, found := s.users[userID]
	if !found {
		return nil, nil
	}
	ids := make([]string, 0, set.Cardinality())
	for _, id := range set.ToSlice() {
		ids = append(ids, id.(string))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Users(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.users))
	for user := range s.users {
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}
