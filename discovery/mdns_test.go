package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartBroadcasterBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		InstanceID: "instance-123",
		ServerName: "office",
		HTTPPort:   8080,
		TCPPort:    9999,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	broadcaster, err := StartBroadcaster(cfg)
	require.NoError(t, err)
	require.NotNil(t, broadcaster)
	broadcaster.Stop()

	assert.Equal(t, "office", gotInstance)
	assert.Equal(t, DefaultService, gotService)
	assert.Equal(t, DefaultDomain, gotDomain)
	assert.Equal(t, 8080, gotPort)
	assert.ElementsMatch(t, []string{
		"instance_id=instance-123",
		"version=1",
		"http_port=8080",
		"tcp_port=9999",
	}, gotTXT)
}

func TestStartBroadcasterValidates(t *testing.T) {
	register := func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		t.Fatal("register must not be called")
		return nil, nil
	}

	_, err := StartBroadcaster(Config{ServerName: "x", HTTPPort: 1, registerFn: register})
	assert.Error(t, err)
	_, err = StartBroadcaster(Config{InstanceID: "id", ServerName: "x", registerFn: register})
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := Config{
		InstanceID: "id",
		ServerName: "office",
		HTTPPort:   8080,
		registerFn: func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsRegisterFailure(t *testing.T) {
	boom := errors.New("no multicast")
	err := Run(context.Background(), Config{
		InstanceID: "id",
		ServerName: "office",
		HTTPPort:   8080,
		registerFn: func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
			return nil, boom
		},
	})
	assert.ErrorIs(t, err, boom)
}

func TestPortOf(t *testing.T) {
	port, err := PortOf(":8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	port, err = PortOf("127.0.0.1:9999")
	require.NoError(t, err)
	assert.Equal(t, 9999, port)

	_, err = PortOf("nope")
	assert.Error(t, err)
}
