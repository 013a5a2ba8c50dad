package radio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"meshmon/internal/logger"
)

// Stream framing: every frame is START1 START2, a big-endian uint16
// payload length, then the JSON payload.
const (
	frameStart1  = 0x94
	frameStart2  = 0xc3
	maxFrameSize = 8192

	// packetBuffer bounds the inbound queue between the transport's read
	// loop and the consumer. When full, new packets are dropped with a
	// warning rather than blocking the reader.
	packetBuffer = 256
)

var ErrNotConnected = errors.New("radio: not connected")

// Identity is the radio's own identity, reported during the handshake.
type Identity struct {
	NodeNum         uint32
	FirmwareVersion string
}

// DirectoryEntry is one cached node from the radio's local node DB.
type DirectoryEntry struct {
	LongName  string
	ShortName string
}

// Transport is one physical link to the radio. Connect establishes the
// link and starts delivery; Identity returns nil until the handshake
// completes and again once the link dies, which is what the manager's
// health check keys on.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Identity() *Identity
	Nodes() map[string]DirectoryEntry
	SendText(dest, text string) error
	Packets() <-chan Packet
}

// stream implements the shared framed-JSON protocol over any byte link.
// tcpTransport and serialTransport only differ in how they open the link
// and whether directory records are retained.
type stream struct {
	mu            sync.Mutex
	conn          io.ReadWriteCloser
	identity      *Identity
	directory     map[string]DirectoryEntry
	keepDirectory bool
	closed        bool

	packets chan Packet
	log     *logger.Logger
}

func newStream(log *logger.Logger, keepDirectory bool) *stream {
	return &stream{
		directory:     make(map[string]DirectoryEntry),
		keepDirectory: keepDirectory,
		packets:       make(chan Packet, packetBuffer),
		log:           log,
	}
}

// begin installs the open link, requests the device's config dump (which
// prompts the identity reply and, on TCP, the node DB), and starts the
// read loop.
func (s *stream) begin(conn io.ReadWriteCloser) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	want, err := json.Marshal(wireWantConfig{WantConfigID: uint32(time.Now().Unix())})
	if err != nil {
		return err
	}
	if err := s.writeFrame(want); err != nil {
		return fmt.Errorf("radio: handshake write failed: %w", err)
	}

	go s.readLoop(conn)
	return nil
}

func (s *stream) readLoop(conn io.ReadWriteCloser) {
	for {
		payload, err := readFrame(conn)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			// A dead link must fail the next health check.
			s.identity = nil
			s.mu.Unlock()
			if !closed {
				s.log.Warn("Read loop ended: %v", err)
			}
			close(s.packets)
			return
		}
		s.handleFrame(payload)
	}
}

func (s *stream) handleFrame(payload []byte) {
	var env fromRadio
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Warn("Discarding undecodable frame (%d bytes): %v", len(payload), err)
		return
	}

	switch {
	case env.MyInfo != nil:
		s.mu.Lock()
		s.identity = &Identity{
			NodeNum:         env.MyInfo.MyNodeNum,
			FirmwareVersion: env.MyInfo.FirmwareVersion,
		}
		s.mu.Unlock()
		s.log.Debug("Radio identity: %s (firmware %s)",
			FormatNodeNum(env.MyInfo.MyNodeNum), env.MyInfo.FirmwareVersion)

	case env.NodeInfo != nil:
		if !s.keepDirectory {
			return
		}
		entry := DirectoryEntry{}
		if env.NodeInfo.User != nil {
			entry.LongName = env.NodeInfo.User.LongName
			entry.ShortName = env.NodeInfo.User.ShortName
		}
		s.mu.Lock()
		s.directory[FormatNodeNum(env.NodeInfo.Num)] = entry
		s.mu.Unlock()

	case env.Packet != nil:
		pkt, err := decodePacket(env.Packet, time.Now())
		if err != nil {
			s.log.Warn("Discarding packet: %v", err)
			return
		}
		select {
		case s.packets <- pkt:
		default:
			s.log.Warn("Packet queue full, dropping %s packet from %s", pkt.Type, pkt.From)
		}
	}
}

func (s *stream) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

func (s *stream) Nodes() map[string]DirectoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DirectoryEntry, len(s.directory))
	for id, entry := range s.directory {
		out[id] = entry
	}
	return out
}

func (s *stream) SendText(dest, text string) error {
	payload, err := encodeText(dest, text)
	if err != nil {
		return err
	}
	return s.writeFrame(payload)
}

func (s *stream) writeFrame(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.closed {
		return ErrNotConnected
	}
	return writeFrame(s.conn, payload)
}

func (s *stream) Packets() <-chan Packet {
	return s.packets
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.identity = nil
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readFrame scans for the two start bytes, reads the length, and returns
// the payload. Stray bytes before a start marker are skipped, which
// resynchronizes the stream after a partial frame.
func readFrame(r io.Reader) ([]byte, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] != frameStart1 {
			continue
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] != frameStart2 {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		length := int(binary.BigEndian.Uint16(lenBuf[:]))
		if length == 0 || length > maxFrameSize {
			continue
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("radio: frame too large (%d bytes)", len(payload))
	}
	buf := make([]byte, 4+len(payload))
	buf[0] = frameStart1
	buf[1] = frameStart2
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
