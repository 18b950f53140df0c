package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakePublisher struct {
	published []amqp.Publishing
	keys      []string
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue []bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acked++; return nil }
func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeue = append(f.requeue, requeue)
	return nil
}
func (f *fakeAck) Reject(_ uint64, requeue bool) error { return f.Nack(0, false, requeue) }

func TestAMQPNotifierPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := &AMQPNotifier{ch: pub, queue: DefaultQueue, templates: NewTemplates()}

	msg := Message{Kind: KindPaperRejected, To: []string{"u@example.com"}, Data: map[string]string{"Reason": "blurry"}}
	if err := n.Notify(context.Background(), msg); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(pub.published) != 1 || pub.keys[0] != DefaultQueue {
		t.Fatalf("unexpected publish calls: %v", pub.keys)
	}
	p := pub.published[0]
	if p.DeliveryMode != amqp.Persistent || p.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", p)
	}
	var got Message
	if err := json.Unmarshal(p.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Kind != KindPaperRejected || got.Data["Reason"] != "blurry" {
		t.Fatalf("unexpected body %+v", got)
	}

	if err := n.Notify(context.Background(), Message{Kind: "bogus", To: []string{"u@example.com"}}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRelayHandleAcksAndNacks(t *testing.T) {
	rec := &recordingNotifier{fail: map[Kind]error{
		KindRewardPaid: errors.New("smtp timeout"),
		"bogus":        ErrUnknownKind,
	}}
	r := &Relay{Delivery: rec}
	body := func(kind Kind) []byte {
		b, _ := json.Marshal(Message{Kind: kind, To: []string{"u@example.com"}})
		return b
	}

	ok := &fakeAck{}
	r.handle(context.Background(), amqp.Delivery{Acknowledger: ok, Body: body(KindPaperApproved)})
	if ok.acked != 1 || ok.nacked != 0 {
		t.Fatalf("expected ack, got %+v", ok)
	}

	transient := &fakeAck{}
	r.handle(context.Background(), amqp.Delivery{Acknowledger: transient, Body: body(KindRewardPaid)})
	if transient.nacked != 1 || !transient.requeue[0] {
		t.Fatalf("expected requeue on first failure, got %+v", transient)
	}

	redelivered := &fakeAck{}
	r.handle(context.Background(), amqp.Delivery{Acknowledger: redelivered, Body: body(KindRewardPaid), Redelivered: true})
	if redelivered.nacked != 1 || redelivered.requeue[0] {
		t.Fatalf("expected drop on second failure, got %+v", redelivered)
	}

	unknown := &fakeAck{}
	r.handle(context.Background(), amqp.Delivery{Acknowledger: unknown, Body: body("bogus")})
	if unknown.nacked != 1 || unknown.requeue[0] {
		t.Fatalf("expected drop for unknown kind, got %+v", unknown)
	}

	garbage := &fakeAck{}
	r.handle(context.Background(), amqp.Delivery{Acknowledger: garbage, Body: []byte("{")})
	if garbage.nacked != 1 || garbage.requeue[0] {
		t.Fatalf("expected drop for malformed body, got %+v", garbage)
	}
}
