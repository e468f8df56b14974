package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryStaleEvictKeepsNewerConnection(t *testing.T) {
	registry := NewRegistry(nil)
	first := &recordingChannel{}
	second := &recordingChannel{}

	gen1 := registry.Admit("alice", first)
	gen2 := registry.Admit("alice", second)
	require.NotEqual(t, gen1, gen2)
	assert.True(t, first.isClosed(), "superseded channel is closed")
	assert.False(t, second.isClosed())

	assert.False(t, registry.Evict("alice", gen1))
	assert.True(t, registry.Online("alice"))
	current, ok := registry.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, current)

	assert.True(t, registry.Evict("alice", gen2))
	assert.False(t, registry.Online("alice"))
	_, ok = registry.Lookup("alice")
	assert.False(t, ok)

	assert.False(t, registry.Evict("alice", gen2), "second evict is a no-op")
}

func TestRegistrySendTo(t *testing.T) {
	registry := NewRegistry(nil)

	assert.False(t, registry.SendTo("nobody", []byte("x")))

	live := &recordingChannel{}
	registry.Admit("alice", live)
	assert.True(t, registry.SendTo("alice", []byte(`{"type":"typing"}`)))
	assert.Len(t, live.frames, 1)

	broken := &recordingChannel{failSend: true}
	registry.Admit("bob", broken)
	assert.False(t, registry.SendTo("bob", []byte("x")), "failed write reads as absence")
	assert.True(t, registry.Online("bob"))
}

func TestRegistryConcurrentAdmitEvict(t *testing.T) {
	registry := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := range 8 {
		identity := fmt.Sprintf("user-%d", i%4)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				generation := registry.Admit(identity, &recordingChannel{})
				registry.SendTo(identity, []byte("ping"))
				registry.Evict(identity, generation)
			}
		}()
	}
	wg.Wait()

	for i := range 4 {
		identity := fmt.Sprintf("user-%d", i)
		_, ok := registry.Lookup(identity)
		assert.False(t, ok, "every admit was followed by its own evict")
		assert.Equal(t, ok, registry.Online(identity), "presence agrees with registry for %s", identity)
	}
}

func TestPresenceFollowsRegistry(t *testing.T) {
	presence := NewPresence()
	registry := NewRegistry(presence)

	assert.False(t, presence.IsOnline("alice"))
	gen := registry.Admit("alice", &recordingChannel{})
	registry.Admit("bob", &recordingChannel{})
	assert.True(t, presence.IsOnline("alice"))
	assert.Equal(t, 2, presence.Count())

	registry.Evict("alice", gen)
	assert.False(t, presence.IsOnline("alice"))
	assert.Equal(t, 1, presence.Count())
	assert.Same(t, presence, registry.Presence())
}
