package logstore

import (
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
)

// EmbeddedServer runs an in-process NATS server with JetStream enabled,
// so the relay ships as a single binary with no external broker.
type EmbeddedServer struct{ ns *server.Server }

func NewEmbeddedServer(storeDir string) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		DontListen: true,
		JetStream:  true,
		StoreDir:   storeDir,
	})
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("NATS server not ready")
	}
	return &EmbeddedServer{ns: ns}, nil
}

func (s *EmbeddedServer) Connect() (*nats.Conn, error) {
	return nats.Connect(s.ns.ClientURL(), nats.InProcessServer(s.ns))
}

func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
