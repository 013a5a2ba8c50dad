package radio

import (
	"context"
	"fmt"
	"net"
	"time"

	"meshmon/internal/logger"
)

const defaultDialTimeout = 5 * time.Second

// tcpTransport links to a network-attached radio. The radio answers the
// handshake with its identity and a dump of its node DB, which is kept as
// the preload directory.
type tcpTransport struct {
	*stream
	host    string
	port    int
	timeout time.Duration
}

func newTCPTransport(host string, port int, timeout time.Duration, log *logger.Logger) *tcpTransport {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &tcpTransport{
		stream:  newStream(log, true),
		host:    host,
		port:    port,
		timeout: timeout,
	}
}

func (t *tcpTransport) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
	t.log.Info("Connecting to radio at %s", addr)

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := t.begin(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}
