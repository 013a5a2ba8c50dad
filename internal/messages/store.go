package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// Retention limits, enforced on every load and every save.
const (
	MaxStoredMessages = 500
	MaxMessageAge     = 90 * 24 * time.Hour
)

// ErrMessageNotFound is returned when an operation names an unknown id.
var ErrMessageNotFound = errors.New("message not found")

// Store keeps messages in memory and mirrors every mutation to a JSON
// array on disk. Volume is small (capped at MaxStoredMessages) so each
// mutation persists synchronously without batching.
type Store struct {
	mu   sync.Mutex
	path string
	msgs []models.Message
	log  *logger.Logger
}

func NewStore(path string, log *logger.Logger) (*Store, error) {
	s := &Store{path: path, log: log.Component("messages")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read message store: %w", err)
	}

	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		// A broken store file must not take messaging down with it.
		s.log.Warn("Message store %s is corrupt, starting empty: %v", s.path, err)
		return nil
	}
	s.msgs = msgs

	if removed := s.prune(time.Now()); removed > 0 {
		s.log.Info("Retention removed %d stored messages on load", removed)
		return s.persist()
	}
	return nil
}

// prune drops messages older than MaxMessageAge, then evicts the oldest
// until at most MaxStoredMessages remain. Returns how many were removed.
// Caller must hold s.mu (or be the only reference, during load).
func (s *Store) prune(now time.Time) int {
	before := len(s.msgs)

	cutoff := float64(now.Add(-MaxMessageAge).Unix())
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.Timestamp >= cutoff {
			kept = append(kept, m)
		}
	}
	s.msgs = kept

	if len(s.msgs) > MaxStoredMessages {
		sort.SliceStable(s.msgs, func(i, j int) bool {
			return s.msgs[i].Timestamp < s.msgs[j].Timestamp
		})
		s.msgs = s.msgs[len(s.msgs)-MaxStoredMessages:]
	}
	return before - len(s.msgs)
}

func (s *Store) persist() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create message store directory: %w", err)
		}
	}

	raw, err := json.MarshalIndent(s.msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode message store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write message store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// SaveMessage validates, defaults, appends and persists one message,
// then applies retention.
func (s *Store) SaveMessage(msg models.Message) error {
	if msg.MessageID == "" || msg.FromNodeID == "" || msg.Text == "" || msg.Timestamp == 0 {
		return errors.New("messages: missing required message field")
	}
	if msg.Direction != models.DirectionSent && msg.Direction != models.DirectionReceived {
		return fmt.Errorf("messages: invalid direction %q", msg.Direction)
	}

	if msg.ToNodeIDs == nil {
		msg.ToNodeIDs = []string{}
	}
	if len(msg.ToNodeIDs) == 0 {
		msg.IsBulletin = true
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = models.DeliveryPending
	}
	if msg.ReadReceipts == nil {
		msg.ReadReceipts = map[string]models.ReadReceipt{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)
	if removed := s.prune(time.Now()); removed > 0 {
		s.log.Debug("Retention removed %d stored messages", removed)
	}
	return s.persist()
}

// Messages returns a copy of every stored message.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Get returns the message with the given id.
func (s *Store) Get(messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(messageID)
	if i < 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return s.msgs[i], nil
}

// UnreadMessages returns unread received messages. Bulletins are unread
// for every node; direct messages only for nodes named in the to-list.
// With an empty nodeID no recipient filter is applied.
func (s *Store) UnreadMessages(nodeID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Message
	for _, m := range s.msgs {
		if m.Direction != models.DirectionReceived || m.Read || m.Archived {
			continue
		}
		if nodeID != "" && !m.IsBulletin && !containsNode(m.ToNodeIDs, nodeID) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func containsNode(ids []string, nodeID string) bool {
	for _, id := range ids {
		if id == nodeID {
			return true
		}
	}
	return false
}

// MarkRead flags a message as read and records when.
func (s *Store) MarkRead(messageID string) error {
	return s.update(messageID, func(m *models.Message) {
		m.Read = true
		at := epochNow()
		m.ReadAt = &at
	})
}

// Archive hides a message from the unread views without deleting it.
func (s *Store) Archive(messageID string) error {
	return s.update(messageID, func(m *models.Message) {
		m.Archived = true
	})
}

// Delete removes a message permanently.
func (s *Store) Delete(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(messageID)
	if i < 0 {
		return ErrMessageNotFound
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return s.persist()
}

// AddReadReceipt records that nodeID read the message. A receipt proves
// delivery, so a still-pending message is promoted to delivered.
func (s *Store) AddReadReceipt(messageID, nodeID string) error {
	return s.update(messageID, func(m *models.Message) {
		if m.ReadReceipts == nil {
			m.ReadReceipts = map[string]models.ReadReceipt{}
		}
		m.ReadReceipts[nodeID] = models.ReadReceipt{Read: true, ReadAt: epochNow()}
		if m.DeliveryStatus == models.DeliveryPending || m.DeliveryStatus == "" {
			m.DeliveryStatus = models.DeliveryDelivered
			at := epochNow()
			m.DeliveredAt = &at
		}
	})
}

// UpdateDeliveryStatus sets a message's delivery state.
func (s *Store) UpdateDeliveryStatus(messageID, status string) error {
	switch status {
	case models.DeliveryPending, models.DeliveryDelivered, models.DeliveryFailed:
	default:
		return fmt.Errorf("messages: invalid delivery status %q", status)
	}
	return s.update(messageID, func(m *models.Message) {
		m.DeliveryStatus = status
		if status == models.DeliveryDelivered && m.DeliveredAt == nil {
			at := epochNow()
			m.DeliveredAt = &at
		}
	})
}

// Count reports how many messages are stored.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Store) update(messageID string, mutate func(*models.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(messageID)
	if i < 0 {
		return ErrMessageNotFound
	}
	mutate(&s.msgs[i])
	return s.persist()
}

// index returns the position of messageID, or -1. Caller holds s.mu.
func (s *Store) index(messageID string) int {
	for i := range s.msgs {
		if s.msgs[i].MessageID == messageID {
			return i
		}
	}
	return -1
}

func epochNow() float64 {
	return epochFrom(time.Now())
}
