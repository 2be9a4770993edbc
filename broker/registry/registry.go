package registry

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrIDTaken  = errors.New("peer id is already registered")
	ErrNotFound = errors.New("peer id is not registered")
)

type record struct {
	registeredAt time.Time
}

// Registry tracks live peer-id registrations. A peer id may be held by
// at most one signaling session at a time; this is what makes the host
// rendezvous id contended when a stale tab still holds it.
type Registry struct {
	mx    *sync.Mutex
	peers map[string]record
}

func New() *Registry {
	return &Registry{
		mx:    &sync.Mutex{},
		peers: make(map[string]record),
	}
}

func (r *Registry) Register(peerID string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.peers[peerID]; ok {
		return ErrIDTaken
	}
	r.peers[peerID] = record{registeredAt: time.Now()}
	return nil
}

func (r *Registry) Unregister(peerID string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.peers[peerID]; !ok {
		return ErrNotFound
	}
	delete(r.peers, peerID)
	return nil
}

func (r *Registry) Exists(peerID string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	_, ok := r.peers[peerID]
	return ok
}
