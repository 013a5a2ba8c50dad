package messages

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"meshmon/internal/logger"
	"meshmon/internal/models"
	"meshmon/internal/radio"
)

// ErrEmptyText is returned when a send carries no message body.
var ErrEmptyText = errors.New("messages: empty message text")

// TextSender is the slice of the radio manager the message service
// needs: sending plain text and knowing our own node id.
type TextSender interface {
	SendText(destination, text string) error
	LocalNodeID() string
}

// Service ties the envelope protocol and the store to the radio. It
// owns the send path and the classification of incoming text packets.
type Service struct {
	store *Store
	radio TextSender
	log   *logger.Logger
}

func NewService(store *Store, sender TextSender, log *logger.Logger) *Service {
	return &Service{store: store, radio: sender, log: log.Component("messages")}
}

// Store exposes the underlying message store for read-side consumers.
func (s *Service) Store() *Store { return s.store }

// Send transmits text to the given nodes (empty list = bulletin to the
// whole mesh) wrapped in the structured envelope, and records the sent
// message as pending delivery.
func (s *Service) Send(toNodeIDs []string, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyText
	}

	now := time.Now()
	local := s.radio.LocalNodeID()
	if local == "" {
		return models.Message{}, radio.ErrNotConnected
	}

	id := NewMessageID(local, now)
	envelope := FormatOutgoing(id, text)

	// Record before transmitting: a send that dies on the radio stays
	// visible in the store as failed instead of vanishing.
	msg := models.Message{
		MessageID:  id,
		FromNodeID: local,
		ToNodeIDs:  toNodeIDs,
		Text:       text,
		Timestamp:  epochFrom(now),
		Direction:  models.DirectionSent,
		Structured: true,
	}
	if err := s.store.SaveMessage(msg); err != nil {
		return models.Message{}, err
	}

	if err := s.transmit(toNodeIDs, envelope); err != nil {
		if mErr := s.store.UpdateDeliveryStatus(id, models.DeliveryFailed); mErr != nil {
			s.log.Warn("Failed to mark message %s as failed: %v", id, mErr)
		}
		return models.Message{}, err
	}

	if len(toNodeIDs) == 0 {
		s.log.Info("Sent bulletin %s to the mesh", id)
	} else {
		s.log.Info("Sent message %s to %d node(s)", id, len(toNodeIDs))
	}
	return s.store.Get(id)
}

func (s *Service) transmit(toNodeIDs []string, envelope string) error {
	if len(toNodeIDs) == 0 {
		if err := s.radio.SendText(radio.BroadcastID, envelope); err != nil {
			return fmt.Errorf("failed to send bulletin: %w", err)
		}
		return nil
	}
	for _, dest := range toNodeIDs {
		if err := s.radio.SendText(dest, envelope); err != nil {
			return fmt.Errorf("failed to send message to %s: %w", dest, err)
		}
	}
	return nil
}

// HandleIncoming classifies one received text payload and updates the
// store. Receipts mutate the original sent message and return no new
// record; everything else is stored and returned.
func (s *Service) HandleIncoming(fromNodeID, toNodeID, fromName, text string, rxTime float64) (*models.Message, error) {
	if text == "" {
		return nil, nil
	}

	if id, ok := ParseReceipt(text); ok {
		err := s.store.AddReadReceipt(id, fromNodeID)
		if err == ErrMessageNotFound {
			s.log.Debug("Read receipt for unknown message %s from %s", id, fromNodeID)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		s.log.Info("Read receipt for %s from %s", id, fromNodeID)
		return nil, nil
	}

	now := time.Now()
	if rxTime <= 0 {
		rxTime = epochFrom(now)
	}

	msg := models.Message{
		FromNodeID: fromNodeID,
		FromName:   fromName,
		Timestamp:  rxTime,
		Direction:  models.DirectionReceived,
	}
	if !IsBulletin(toNodeID) {
		msg.ToNodeIDs = []string{toNodeID}
	}

	if id, body, ok := ParseMessage(text); ok {
		msg.MessageID = id
		msg.Text = body
		msg.Structured = true
	} else {
		// Freeform traffic from another client still gets stored so the
		// operator does not silently lose it.
		msg.MessageID = NewMessageID(fromNodeID, now)
		msg.Text = text
	}

	if err := s.store.SaveMessage(msg); err != nil {
		return nil, err
	}
	stored, err := s.store.Get(msg.MessageID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Stored %s message %s from %s", msg.Direction, msg.MessageID, fromNodeID)
	return &stored, nil
}

// MarkReadAndAck marks a message read and, for structured received
// messages, sends a read receipt back to the sender. A failed receipt
// send is logged but does not undo the read.
func (s *Service) MarkReadAndAck(messageID string) error {
	msg, err := s.store.Get(messageID)
	if err != nil {
		return err
	}
	if err := s.store.MarkRead(messageID); err != nil {
		return err
	}

	if msg.Direction == models.DirectionReceived && msg.Structured {
		if err := s.radio.SendText(msg.FromNodeID, FormatReceipt(messageID)); err != nil {
			s.log.Warn("Failed to send read receipt for %s: %v", messageID, err)
		}
	}
	return nil
}

func epochFrom(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
