package natsclient

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/TreePulse/config"
)

const (
	connectTimeout = 5 * time.Second
	reconnectWait  = 2 * time.Second
)

// Connect opens the NATS connection backing the event tap. The tap is
// best-effort, so the connection keeps reconnecting in the background
// forever instead of giving up and taking the tap down for good.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Name("treepulse"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}

	conn, err := nats.Connect("nats://"+net.JoinHostPort(host, strconv.Itoa(port)), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}
