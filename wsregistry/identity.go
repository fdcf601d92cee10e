package wsregistry

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set"
)

// Number of lock stripes used to protect the user index.
const stripeCount = 64

// Values stored in an IdentityRegistry expose their own ID.
type Identifiable interface {
	ID() string
}

// Entry of the primary index. Entries are immutable: updates swap the pointer.
type identity[V Identifiable] struct {
	// Empty for anonymous connections.
	userID string
	value  V
}

// Registry of connections which also indexes authenticated connections by user ID.
//
// The primary index (connection ID -> identity) is a Registry and is read without locks. The
// secondary index (user ID -> set of connection IDs) is protected by striped locks: mutations of a
// user's set hold the stripe of that user while the primary index is updated, so readers of a
// user's set under the same stripe always see both indexes in agreement. Concurrent updates of the
// same connection are serialized with compare-and-swap on the primary index.
type IdentityRegistry[V Identifiable] struct {
	connections *Registry[string, *identity[V]]
	users       sync.Map
	userCount   atomic.Int64
	stripes     [stripeCount]sync.RWMutex
}

// Factory which creates a new, empty IdentityRegistry.
func NewIdentityRegistry[V Identifiable]() *IdentityRegistry[V] {
	return &IdentityRegistry[V]{
		connections: New[string, *identity[V]](),
	}
}

// # Description
//
// Register an anonymous connection.
//
// # Returns
//
// False if a connection with the same ID is already registered.
func (r *IdentityRegistry[V]) Add(value V) bool {
	return r.connections.Add(value.ID(), &identity[V]{value: value})
}

// # Description
//
// Register the connection under userID, in both indexes at once. If the connection is already
// registered (anonymously or under another user) it is moved to userID.
//
// # Returns
//
// False if userID is empty.
func (r *IdentityRegistry[V]) AddIdentity(userID string, value V) bool {
	if userID == "" {
		return false
	}
	id := value.ID()
	next := &identity[V]{userID: userID, value: value}
	for {
		prev, found := r.connections.Get(id)
		prevUser := ""
		if found {
			prevUser = prev.userID
		}
		unlock := r.lockUsers(userID, prevUser)
		// Retry if the connection changed before the locks were acquired
		if cur, ok := r.connections.Get(id); ok != found || cur != prev {
			unlock()
			continue
		}
		if found && prevUser == userID {
			swapped := r.connections.CompareAndSwap(id, prev, next)
			unlock()
			if swapped {
				return true
			}
			continue
		}
		// Secondary index first: a connection visible in the primary index under userID is
		// always present in the user's set.
		r.bucket(userID, true).Add(id)
		var stored bool
		if found {
			stored = r.connections.CompareAndSwap(id, prev, next)
		} else {
			stored = r.connections.Add(id, next)
		}
		if !stored {
			r.removeFromBucket(userID, id)
			unlock()
			continue
		}
		if prevUser != "" {
			r.removeFromBucket(prevUser, id)
		}
		unlock()
		return true
	}
}

// # Description
//
// Remove the connection from both indexes. The user entry is dropped when its last connection is
// removed.
//
// # Returns
//
// The removed connection and true if it was registered.
func (r *IdentityRegistry[V]) Remove(id string) (V, bool) {
	for {
		prev, found := r.connections.Get(id)
		if !found {
			var zero V
			return zero, false
		}
		if prev.userID == "" {
			if r.connections.CompareAndDelete(id, prev) {
				return prev.value, true
			}
			continue
		}
		unlock := r.lockUsers(prev.userID, "")
		removed := r.connections.CompareAndDelete(id, prev)
		if removed {
			r.removeFromBucket(prev.userID, id)
		}
		unlock()
		if removed {
			return prev.value, true
		}
	}
}

// Return the connection registered under id.
func (r *IdentityRegistry[V]) Get(id string) (V, bool) {
	entry, found := r.connections.Get(id)
	if !found {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Return the user the connection is registered under. Empty and true for anonymous connections.
func (r *IdentityRegistry[V]) UserOf(id string) (string, bool) {
	entry, found := r.connections.Get(id)
	if !found {
		return "", false
	}
	return entry.userID, true
}

// Return a snapshot of all registered connections.
func (r *IdentityRegistry[V]) GetAll() []V {
	entries := r.connections.GetAll()
	values := make([]V, 0, len(entries))
	for _, entry := range entries {
		values = append(values, entry.value)
	}
	return values
}

// # Description
//
// Return a snapshot of the connections registered under userID. The snapshot is consistent with
// the primary index.
func (r *IdentityRegistry[V]) GetAllForUser(userID string) []V {
	stripe := &r.stripes[stripeFor(userID)]
	stripe.RLock()
	defer stripe.RUnlock()
	set := r.bucket(userID, false)
	if set == nil {
		return nil
	}
	ids := set.ToSlice()
	values := make([]V, 0, len(ids))
	for _, raw := range ids {
		if entry, found := r.connections.Get(raw.(string)); found && entry.userID == userID {
			values = append(values, entry.value)
		}
	}
	return values
}

// Return true if at least one connection is registered under userID.
func (r *IdentityRegistry[V]) HasUser(userID string) bool {
	_, found := r.users.Load(userID)
	return found
}

// Return a snapshot of the IDs of the users with at least one connection.
func (r *IdentityRegistry[V]) Users() []string {
	users := make([]string, 0, r.UserCount())
	r.users.Range(func(key, _ any) bool {
		users = append(users, key.(string))
		return true
	})
	return users
}

// Return the number of registered connections.
func (r *IdentityRegistry[V]) Len() int {
	return r.connections.Len()
}

// Return the number of users with at least one connection.
func (r *IdentityRegistry[V]) UserCount() int {
	return int(r.userCount.Load())
}

// Return the connection ID set of userID. Caller holds the user stripe (write lock if create).
func (r *IdentityRegistry[V]) bucket(userID string, create bool) mapset.Set {
	if set, found := r.users.Load(userID); found {
		return set.(mapset.Set)
	}
	if !create {
		return nil
	}
	set := mapset.NewThreadUnsafeSet()
	r.users.Store(userID, set)
	r.userCount.Add(1)
	return set
}

// Remove id from the set of userID and drop the set once empty. Caller holds the user stripe.
func (r *IdentityRegistry[V]) removeFromBucket(userID string, id string) {
	set := r.bucket(userID, false)
	if set == nil {
		return
	}
	set.Remove(id)
	if set.Cardinality() == 0 {
		r.users.Delete(userID)
		r.userCount.Add(-1)
	}
}

// Lock the stripes of the provided users in a fixed order. Empty user IDs are ignored.
func (r *IdentityRegistry[V]) lockUsers(users ...string) func() {
	indexes := make([]int, 0, len(users))
	for _, user := range users {
		if user == "" {
			continue
		}
		idx := stripeFor(user)
		duplicate := false
		for _, existing := range indexes {
			if existing == idx {
				duplicate = true
				break
			}
		}
		if !duplicate {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		r.stripes[idx].Lock()
	}
	return func() {
		for i := len(indexes) - 1; i >= 0; i-- {
			r.stripes[indexes[i]].Unlock()
		}
	}
}

func stripeFor(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % stripeCount)
}
