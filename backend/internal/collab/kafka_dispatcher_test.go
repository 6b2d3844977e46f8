package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaDispatcherPublishesHistoryEvents(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt HistoryEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.EventType != "DOC_HISTORY" || evt.DocID != "D" || evt.Action != ActionLock {
			return fmt.Errorf("unexpected event %+v", evt)
		}
		return nil
	})

	d := NewKafkaDispatcher(sp, "doc-history", NewSemaphoreControl(1), KafkaDispatcherOptions{})
	c := NewCoordinator(Options{Events: d})
	if _, err := c.Acquire(context.Background(), "D", alice); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	d.Close()
	if err := sp.Close(); err != nil {
		t.Fatalf("producer close: %v", err)
	}
}

func TestKafkaDispatcherRetriesThenSucceeds(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndSucceed()

	d := NewKafkaDispatcher(sp, "doc-history", nil, KafkaDispatcherOptions{MaxRetry: 2, BaseBackoff: time.Millisecond})
	if err := d.Enqueue(context.Background(), HistoryEvent{DocID: "D", Action: ActionUpdate}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()
	if err := sp.Close(); err != nil {
		t.Fatalf("producer close: %v", err)
	}
}

func TestKafkaDispatcherWithoutProducerDropsQuietly(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", nil, KafkaDispatcherOptions{QueueSize: 1})
	defer d.Close()
	for i := 0; i < 5; i++ {
		if err := d.Publish(context.Background(), HistoryEntry{DocumentID: "D"}); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("publish: %v", err)
		}
	}
}

func TestSemaphoreControl(t *testing.T) {
	s := NewSemaphoreControl(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("full semaphore must time out, got %v", err)
	}
	if s.InUse() != 1 {
		t.Fatalf("in use = %d", s.InUse())
	}
	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.Release(); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("double release must fail, got %v", err)
	}
}
