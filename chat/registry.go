package chat

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const registryShards = 32

// Generation identifies one registration of an identity. Every Admit returns a
// fresh value.
type Generation uint64

type registryEntry struct {
	channel    Channel
	generation Generation
}

type registryShard struct {
	mu      sync.Mutex
	entries map[string]registryEntry
}

// Registry maps each online identity to exactly one live channel. Locking is
// per shard so unrelated identities do not contend.
type Registry struct {
	shards   [registryShards]registryShard
	next     atomic.Uint64
	presence *Presence
	log      *logrus.Entry
}

// NewRegistry creates a sharded connection registry that keeps presence in
// step with admit and evict. A nil presence gets a fresh table.
func NewRegistry(presence *Presence) *Registry {
	if presence == nil {
		presence = NewPresence()
	}
	r := &Registry{
		presence: presence,
		log:      logrus.WithField("component", "registry"),
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]registryEntry)
	}
	return r
}

// Presence returns the tracker this registry keeps up to date.
func (r *Registry) Presence() *Presence {
	return r.presence
}

func (r *Registry) shard(identity string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &r.shards[h.Sum32()%registryShards]
}

// Admit registers channel for identity, replacing and closing any previous
// channel, and marks the identity online.
func (r *Registry) Admit(identity string, channel Channel) Generation {
	generation := Generation(r.next.Add(1))

	sh := r.shard(identity)
	sh.mu.Lock()
	previous, replaced := sh.entries[identity]
	sh.entries[identity] = registryEntry{channel: channel, generation: generation}
	r.presence.setOnline(identity)
	sh.mu.Unlock()

	if replaced && previous.channel != channel {
		r.log.WithFields(logrus.Fields{
			"identity":   identity,
			"generation": previous.generation,
		}).Debug("superseded connection")
		_ = previous.channel.Close()
	}
	return generation
}

// Evict removes identity only while generation is still the current
// registration, and marks it offline only in that case.
func (r *Registry) Evict(identity string, generation Generation) bool {
	sh := r.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.entries[identity]
	if !ok || current.generation != generation {
		return false
	}
	delete(sh.entries, identity)
	r.presence.setOffline(identity)
	return true
}

// Lookup returns the live channel for identity.
func (r *Registry) Lookup(identity string) (Channel, bool) {
	sh := r.shard(identity)
	sh.mu.Lock()
	entry, ok := sh.entries[identity]
	sh.mu.Unlock()
	return entry.channel, ok
}

// SendTo writes payload to identity's channel. A failed write is reported as
// absence.
func (r *Registry) SendTo(identity string, payload []byte) bool {
	channel, ok := r.Lookup(identity)
	if !ok {
		return false
	}
	if err := channel.Send(payload); err != nil {
		r.log.WithFields(logrus.Fields{
			"identity": identity,
			"error":    err,
		}).Debug("write to stale channel")
		return false
	}
	return true
}

// Online reports whether identity is registered.
func (r *Registry) Online(identity string) bool {
	return r.presence.IsOnline(identity)
}
