package messages

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"meshmon/internal/models"
	"meshmon/internal/radio"
)

type fakeSender struct {
	mu    sync.Mutex
	local string
	sent  [][2]string
	err   error
}

func (f *fakeSender) SendText(dest, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, [2]string{dest, text})
	return nil
}

func (f *fakeSender) LocalNodeID() string { return f.local }

func (f *fakeSender) sends() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func testService(t *testing.T) (*Service, *Store, *fakeSender) {
	t.Helper()
	store := testStore(t)
	sender := &fakeSender{local: "!deadbeef"}
	return NewService(store, sender, testLog(t)), store, sender
}

// --- send path ---

func TestService_SendBulletin(t *testing.T) {
	svc, store, sender := testService(t)

	msg, err := svc.Send(nil, "evening all")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !strings.HasPrefix(msg.MessageID, "deadbeef_") {
		t.Errorf("MessageID = %q, want deadbeef_ prefix", msg.MessageID)
	}
	if !msg.IsBulletin || msg.Direction != models.DirectionSent {
		t.Errorf("stored message = %+v", msg)
	}
	if msg.DeliveryStatus != models.DeliveryPending {
		t.Errorf("DeliveryStatus = %q, want pending", msg.DeliveryStatus)
	}

	sent := sender.sends()
	if len(sent) != 1 {
		t.Fatalf("radio saw %d sends, want 1", len(sent))
	}
	if sent[0][0] != radio.BroadcastID {
		t.Errorf("bulletin destination = %q, want %q", sent[0][0], radio.BroadcastID)
	}
	if want := FormatOutgoing(msg.MessageID, "evening all"); sent[0][1] != want {
		t.Errorf("wire text = %q, want %q", sent[0][1], want)
	}

	if store.Count() != 1 {
		t.Errorf("store count = %d, want 1", store.Count())
	}
}

func TestService_SendDirectReachesEachRecipient(t *testing.T) {
	svc, _, sender := testService(t)

	msg, err := svc.Send([]string{"!n1000001", "!n2000002"}, "crew check-in")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.IsBulletin {
		t.Error("direct message flagged as bulletin")
	}

	sent := sender.sends()
	if len(sent) != 2 {
		t.Fatalf("radio saw %d sends, want 2", len(sent))
	}
	if sent[0][0] != "!n1000001" || sent[1][0] != "!n2000002" {
		t.Errorf("destinations = %q, %q", sent[0][0], sent[1][0])
	}
	if sent[0][1] != sent[1][1] {
		t.Error("recipients saw different envelopes for the same message")
	}
}

func TestService_SendWhileDisconnected(t *testing.T) {
	store := testStore(t)
	svc := NewService(store, &fakeSender{local: ""}, testLog(t))

	if _, err := svc.Send(nil, "hello"); !errors.Is(err, radio.ErrNotConnected) {
		t.Errorf("Send with no identity = %v, want ErrNotConnected", err)
	}
	if store.Count() != 0 {
		t.Error("failed send was stored")
	}
}

func TestService_SendRejectsBlankText(t *testing.T) {
	svc, store, sender := testService(t)

	if _, err := svc.Send(nil, "  \n "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Send blank text = %v, want ErrEmptyText", err)
	}
	if len(sender.sends()) != 0 || store.Count() != 0 {
		t.Error("blank text reached the radio or the store")
	}
}

func TestService_SendFailureKeptAsFailed(t *testing.T) {
	svc, store, sender := testService(t)
	sender.err = errors.New("tx queue full")

	if _, err := svc.Send([]string{"!n1000001"}, "are you up"); err == nil {
		t.Fatal("Send succeeded despite radio error")
	}

	msgs := store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("store count = %d, want the failed message kept", len(msgs))
	}
	if msgs[0].DeliveryStatus != models.DeliveryFailed {
		t.Errorf("DeliveryStatus = %q, want failed", msgs[0].DeliveryStatus)
	}
}

// --- receive path ---

func TestService_HandleIncoming_Structured(t *testing.T) {
	svc, _, _ := testService(t)

	msg, err := svc.HandleIncoming("!n1000001", "!deadbeef", "Ridge Repeater", "[MSG:n1_42]water levels holding", 1700000100)
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if msg == nil {
		t.Fatal("structured message produced no record")
	}

	if msg.MessageID != "n1_42" || msg.Text != "water levels holding" {
		t.Errorf("parsed message = %+v", msg)
	}
	if !msg.Structured || msg.IsBulletin {
		t.Errorf("structured=%v bulletin=%v, want true/false", msg.Structured, msg.IsBulletin)
	}
	if len(msg.ToNodeIDs) != 1 || msg.ToNodeIDs[0] != "!deadbeef" {
		t.Errorf("ToNodeIDs = %v", msg.ToNodeIDs)
	}
	if msg.FromName != "Ridge Repeater" || msg.Timestamp != 1700000100 {
		t.Errorf("from/timestamp = %q/%v", msg.FromName, msg.Timestamp)
	}
}

func TestService_HandleIncoming_FreeformStillStored(t *testing.T) {
	svc, store, _ := testService(t)

	msg, err := svc.HandleIncoming("!a20a0de0", radio.BroadcastID, "", "just chatting", 0)
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if msg == nil {
		t.Fatal("freeform text was dropped")
	}

	if msg.Structured {
		t.Error("freeform text marked structured")
	}
	if !msg.IsBulletin {
		t.Error("broadcast text not marked bulletin")
	}
	if !strings.HasPrefix(msg.MessageID, "a20a0de0_") {
		t.Errorf("synthesized id = %q, want sender prefix", msg.MessageID)
	}
	if msg.Timestamp <= 0 {
		t.Error("timestamp not defaulted")
	}
	if store.Count() != 1 {
		t.Errorf("store count = %d, want 1", store.Count())
	}
}

func TestService_HandleIncoming_Receipt(t *testing.T) {
	svc, store, _ := testService(t)

	sent := models.Message{
		MessageID:  "deadbeef_7",
		FromNodeID: "!deadbeef",
		ToNodeIDs:  []string{"!n1000001"},
		Text:       "ack me",
		Timestamp:  float64(time.Now().Unix()),
		Direction:  models.DirectionSent,
	}
	mustSave(t, store, sent)

	msg, err := svc.HandleIncoming("!n1000001", "!deadbeef", "", "[RECEIPT:deadbeef_7]", 0)
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if msg != nil {
		t.Errorf("receipt produced a new record: %+v", msg)
	}

	got, _ := store.Get("deadbeef_7")
	if _, ok := got.ReadReceipts["!n1000001"]; !ok {
		t.Error("receipt not recorded on the sent message")
	}
	if store.Count() != 1 {
		t.Errorf("store count = %d, want 1", store.Count())
	}
}

func TestService_HandleIncoming_ReceiptForUnknownMessage(t *testing.T) {
	svc, store, _ := testService(t)

	msg, err := svc.HandleIncoming("!n1000001", "!deadbeef", "", "[RECEIPT:gone_1]", 0)
	if err != nil || msg != nil {
		t.Errorf("unknown receipt = (%v, %v), want (nil, nil)", msg, err)
	}
	if store.Count() != 0 {
		t.Error("unknown receipt was stored")
	}
}

// --- read acknowledgement ---

func TestService_MarkReadAndAck(t *testing.T) {
	svc, store, sender := testService(t)

	if _, err := svc.HandleIncoming("!n1000001", "!deadbeef", "", "[MSG:n1_9]read me", 1700000100); err != nil {
		t.Fatal(err)
	}

	if err := svc.MarkReadAndAck("n1_9"); err != nil {
		t.Fatalf("MarkReadAndAck: %v", err)
	}

	got, _ := store.Get("n1_9")
	if !got.Read {
		t.Error("message not marked read")
	}

	sent := sender.sends()
	if len(sent) != 1 {
		t.Fatalf("radio saw %d sends, want 1 receipt", len(sent))
	}
	if sent[0][0] != "!n1000001" || sent[0][1] != "[RECEIPT:n1_9]" {
		t.Errorf("receipt send = %v", sent[0])
	}
}

func TestService_MarkReadAndAck_NoReceiptForFreeform(t *testing.T) {
	svc, store, sender := testService(t)

	msg, err := svc.HandleIncoming("!n1000001", "!deadbeef", "", "plain note", 1700000100)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.MarkReadAndAck(msg.MessageID); err != nil {
		t.Fatalf("MarkReadAndAck: %v", err)
	}

	got, _ := store.Get(msg.MessageID)
	if !got.Read {
		t.Error("message not marked read")
	}
	if len(sender.sends()) != 0 {
		t.Error("freeform message triggered a protocol receipt")
	}
}
