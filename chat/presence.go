package chat

import "sync"

// Presence holds the online flag per identity. Only the Registry writes it, so
// it can never disagree with registry membership.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresence creates an empty presence table. Only a Registry updates it.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

func (p *Presence) setOnline(identity string) {
	p.mu.Lock()
	p.online[identity] = struct{}{}
	p.mu.Unlock()
}

func (p *Presence) setOffline(identity string) {
	p.mu.Lock()
	delete(p.online, identity)
	p.mu.Unlock()
}

// IsOnline reports whether identity currently has a registered connection.
func (p *Presence) IsOnline(identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[identity]
	return ok
}

// Count returns the number of online identities.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}
