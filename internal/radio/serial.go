package radio

import (
	"context"
	"fmt"

	"meshmon/internal/logger"

	"go.bug.st/serial"
)

// serialTransport links to a locally attached radio over a serial port.
// Unlike TCP, no node directory is retained, so serial connections start
// with no preloaded names.
type serialTransport struct {
	*stream
	device string
	baud   int
}

func newSerialTransport(device string, baud int, log *logger.Logger) *serialTransport {
	if baud <= 0 {
		baud = 115200
	}
	return &serialTransport{
		stream: newStream(log, false),
		device: device,
		baud:   baud,
	}
}

func (t *serialTransport) Connect(ctx context.Context) error {
	t.log.Info("Opening serial port %s @ %d baud", t.device, t.baud)

	port, err := serial.Open(t.device, &serial.Mode{BaudRate: t.baud})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", t.device, err)
	}

	if err := t.begin(port); err != nil {
		port.Close()
		return err
	}
	return nil
}
