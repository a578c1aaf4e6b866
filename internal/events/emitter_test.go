package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestEmitter_PublishesJSONToPrefixedTopic(t *testing.T) {
	pub := NewMockPublisher()
	e := NewEmitter(pub, "dialer", "/", nil)
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	e.Emit(context.Background(), Event{Type: CallQueued, CallID: "c1", Position: 2, At: at})

	msgs := pub.Messages()
	if len(msgs) != 1 || msgs[0].Topic != "dialer/call.queued" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	var got Event
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CallID != "c1" || got.Position != 2 || !got.At.Equal(at) {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestEmitter_SwallowsPublishErrors(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetError(errors.New("broker down"))
	e := NewEmitter(pub, "", "", nil)

	e.Emit(context.Background(), Event{Type: CallMissed, CallID: "c1"})
	if len(pub.Messages()) != 0 {
		t.Fatalf("expected nothing recorded")
	}

	var nilEmitter *Emitter
	nilEmitter.Emit(context.Background(), Event{Type: CallMissed})
}

func TestEmitter_KafkaKeyedByCall(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != OutcomeRecorded {
			return errors.New("unexpected event type " + ev.Type)
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer)
	e := NewEmitter(pub, "dialer", ".", nil)
	if e.Topic(OutcomeRecorded) != "dialer.outcome.recorded" {
		t.Fatalf("unexpected topic %s", e.Topic(OutcomeRecorded))
	}
	e.Emit(context.Background(), Event{Type: OutcomeRecorded, CallID: "c7", Outcome: "contacted"})

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
