// Package registry tracks every live connection handle so that process
// cleanup can close them in creation order.
package registry

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Resource is anything the registry can close at cleanup.
type Resource interface {
	io.Closer
	ID() uint64
}

// Registry is an ordered set of resources guarded by a single mutex.
// The mutex only covers mutation; resources are closed outside of it.
type Registry struct {
	logger *logrus.Logger

	mu     sync.Mutex
	items  *orderedmap.OrderedMap[uint64, Resource]
	closed bool
}

func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		logger: logger,
		items:  orderedmap.New[uint64, Resource](),
	}
}

// Register adds res. Registering the same ID twice keeps the original
// position. After CloseAll the registry accepts nothing: res is closed
// at once and Register returns false.
func (r *Registry) Register(res Resource) bool {
	if res == nil {
		panic("registry: nil resource")
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if err := res.Close(); err != nil {
			r.logger.WithFields(logrus.Fields{"id": res.ID(), "error": err}).Debug("Ignoring close error after cleanup")
		}
		r.logger.WithField("id", res.ID()).Warn("Closed connection registered after cleanup")
		return false
	}
	defer r.mu.Unlock()
	if _, exists := r.items.Get(res.ID()); !exists {
		r.items.Set(res.ID(), res)
	}
	return true
}

// Remove drops res without closing it and reports whether it was present.
func (r *Registry) Remove(res Resource) bool {
	if res == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, present := r.items.Delete(res.ID())
	return present
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.Len()
}

// Snapshot returns the registered resources, oldest first.
func (r *Registry) Snapshot() []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Resource {
	out := make([]Resource, 0, r.items.Len())
	for pair := r.items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// CloseAll empties the registry and closes every resource it held, oldest
// first. Close errors are logged and otherwise ignored. Returns how many
// resources were closed. Resources registered later are closed by Register.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := r.snapshotLocked()
	r.items = orderedmap.New[uint64, Resource]()
	r.closed = true
	r.mu.Unlock()

	for _, res := range all {
		if err := res.Close(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"id":    res.ID(),
				"error": err,
			}).Debug("Ignoring close error during cleanup")
		}
	}
	if len(all) > 0 {
		r.logger.WithField("count", len(all)).Info("Closed registered connections")
	}
	return len(all)
}
