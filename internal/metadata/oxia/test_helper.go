package oxia

import (
	"os"
	"testing"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// TestServer is an Oxia standalone server used by tests in this package
// and by packages that want a real durable KV behind their components.
type TestServer struct {
	standalone *dataserver.Standalone
	addr       string
	dir        string
}

// Addr returns the service address of the test server.
func (s *TestServer) Addr() string {
	return s.addr
}

// Close shuts down the test server and removes its data directory.
func (s *TestServer) Close() error {
	var err error
	if s.standalone != nil {
		err = s.standalone.Close()
		s.standalone = nil
	}
	if s.dir != "" {
		os.RemoveAll(s.dir)
		s.dir = ""
	}
	return err
}

// StartTestServer returns an Oxia server for the duration of t.
// OXIA_SERVICE_ADDRESS points tests at an external server; otherwise an
// embedded standalone server is started in a temp directory.
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()

	if addr := os.Getenv("OXIA_SERVICE_ADDRESS"); addr != "" {
		t.Logf("Using external Oxia server at %s", addr)
		return &TestServer{addr: addr}
	}

	dir := t.TempDir()
	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(dir))
	if err != nil {
		t.Fatalf("failed to start Oxia standalone server: %v", err)
	}

	server := &TestServer{
		standalone: standalone,
		addr:       standalone.ServiceAddr(),
	}
	t.Cleanup(func() {
		server.Close()
	})

	t.Logf("Started embedded Oxia server at %s", server.addr)
	return server
}
