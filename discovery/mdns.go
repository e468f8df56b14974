// Package discovery advertises the server on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_chitchat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Config controls the mDNS advertisement.
type Config struct {
	Service string
	Domain  string
	Version int

	InstanceID string
	ServerName string
	HTTPPort   int
	TCPPort    int

	registerFn registerFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.InstanceID) == "" {
		return errors.New("instance ID is required")
	}
	if strings.TrimSpace(c.ServerName) == "" {
		return errors.New("server name is required")
	}
	if c.HTTPPort <= 0 {
		return errors.New("http port must be > 0")
	}
	return nil
}

func (c Config) txtRecords() []string {
	txt := []string{
		"instance_id=" + c.InstanceID,
		"version=" + strconv.Itoa(c.Version),
		"http_port=" + strconv.Itoa(c.HTTPPort),
	}
	if c.TCPPort > 0 {
		txt = append(txt, "tcp_port="+strconv.Itoa(c.TCPPort))
	}
	return txt
}

// Broadcaster advertises the server via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers and starts mDNS broadcast. The advertised port is
// the HTTP port; the TCP port travels in the TXT record.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	server, err := cfg.registerFn(cfg.ServerName, cfg.Service, cfg.Domain, cfg.HTTPPort, cfg.txtRecords(), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "discovery",
		"service":   cfg.Service,
		"http_port": cfg.HTTPPort,
		"tcp_port":  cfg.TCPPort,
	}).Info("mDNS advertisement started")
	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// Run advertises until ctx is done.
func Run(ctx context.Context, config Config) error {
	broadcaster, err := StartBroadcaster(config)
	if err != nil {
		return err
	}
	<-ctx.Done()
	broadcaster.Stop()
	return nil
}

// PortOf extracts the numeric port of a listen address such as ":8080".
func PortOf(address string) (int, error) {
	_, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", address, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return 0, fmt.Errorf("parse port %q: %w", rawPort, err)
	}
	return port, nil
}
