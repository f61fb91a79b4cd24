package events

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// StartEmbeddedServer runs an in-process NATS server, for single-binary
// deployments that want the NATS bus without an external broker.
// Port -1 selects a random free port; the server's client URL is
// available via ClientURL().
func StartEmbeddedServer(host string, port int) (*natsserver.Server, error) {
	if host == "" {
		host = "127.0.0.1"
	}

	opts := &natsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within 5s")
	}

	return srv, nil
}
