package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"botdash/internal/models"
)

const testTopic = "bot-events"

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StreamEvent
	source []string
	err    error
	calls  int
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, payload interface{}, source string) (models.StreamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return models.StreamEvent{}, p.err
	}
	data, ok := payload.([]byte)
	if !ok {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return models.StreamEvent{}, err
		}
	}
	ev := models.StreamEvent{Type: eventType, Data: data, CreatedAt: time.Now()}
	p.events = append(p.events, ev)
	p.source = append(p.source, source)
	return ev, nil
}

func (p *recordingPublisher) snapshot() ([]models.StreamEvent, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StreamEvent(nil), p.events...), append([]string(nil), p.source...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: testTopic, Value: []byte(value)}
}

func TestKafka_PublishesValidMessages(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(testTopic, 0, sarama.OffsetNewest)
	pc.YieldMessage(message(`{"type":"botStatus","data":{"bot_id":"b1","status":"running"}}`))
	pc.YieldMessage(message(`not json`))
	pc.YieldMessage(message(`{"type":"unknownThing","data":{}}`))
	pc.YieldMessage(message(`{"type":"message","data":{}}`))
	pc.YieldMessage(message(`{"type":"marketUpdate"}`))
	pc.YieldMessage(message(`{"type":"marketUpdate","data":{"symbol":"BTCUSDT","last":65000}}`))

	pub := &recordingPublisher{}
	k := NewKafka(consumer, KafkaConfig{Topic: testTopic}, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	waitFor(t, func() bool {
		events, _ := pub.snapshot()
		return len(events) == 2
	})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	events, sources := pub.snapshot()
	if events[0].Type != models.EventBotStatus || events[1].Type != models.EventMarketUpdate {
		t.Errorf("unexpected order: %s, %s", events[0].Type, events[1].Type)
	}
	if string(events[0].Data) != `{"bot_id":"b1","status":"running"}` {
		t.Errorf("data = %s", events[0].Data)
	}
	for _, s := range sources {
		if s != "kafka" {
			t.Errorf("source = %q, want kafka", s)
		}
	}
}

func TestKafka_PublishErrorDoesNotStopConsumer(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(testTopic, 0, sarama.OffsetOldest)
	pc.YieldMessage(message(`{"type":"orderUpdate","data":{"order_id":"o1"}}`))

	pub := &recordingPublisher{err: errors.New("hub stopped")}
	k := NewKafka(consumer, KafkaConfig{Topic: testTopic, Offset: "oldest"}, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	waitFor(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return pub.calls == 1
	})
	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	pc.YieldMessage(message(`{"type":"orderUpdate","data":{"order_id":"o2"}}`))

	waitFor(t, func() bool {
		events, _ := pub.snapshot()
		return len(events) == 1
	})
	cancel()
	<-done

	events, _ := pub.snapshot()
	if string(events[0].Data) != `{"order_id":"o2"}` {
		t.Errorf("data = %s", events[0].Data)
	}
}

// flakyConsumer отказывает в ConsumePartition первые failures раз
type flakyConsumer struct {
	sarama.Consumer
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, sarama.ErrLeaderNotAvailable
	}
	return f.Consumer.ConsumePartition(topic, partition, offset)
}

func TestKafka_RetriesConsumePartition(t *testing.T) {
	inner := mocks.NewConsumer(t, nil)
	pc := inner.ExpectConsumePartition(testTopic, 2, sarama.OffsetNewest)
	pc.YieldMessage(message(`{"type":"metricsTick","data":{"bot_id":"b1","equity":1000}}`))

	consumer := &flakyConsumer{Consumer: inner, failures: 2}
	pub := &recordingPublisher{}
	k := NewKafka(consumer, KafkaConfig{Topic: testTopic, Partition: 2}, pub, nil)
	k.retryInitial = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	waitFor(t, func() bool {
		events, _ := pub.snapshot()
		return len(events) == 1
	})
	cancel()
	<-done

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if consumer.calls != 3 {
		t.Errorf("ConsumePartition calls = %d, want 3", consumer.calls)
	}
}

func TestKafka_RunStopsWhileRetrying(t *testing.T) {
	inner := mocks.NewConsumer(t, nil)
	consumer := &flakyConsumer{Consumer: inner, failures: 1 << 30}
	k := NewKafka(consumer, KafkaConfig{Topic: testTopic}, &recordingPublisher{}, nil)
	k.retryInitial = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := k.Run(ctx); err == nil {
		t.Error("expected error when context ends before partition is consumed")
	}
}

func TestKafka_InitialOffset(t *testing.T) {
	tests := []struct {
		offset string
		want   int64
	}{
		{"", sarama.OffsetNewest},
		{"newest", sarama.OffsetNewest},
		{"oldest", sarama.OffsetOldest},
	}
	for _, tt := range tests {
		k := NewKafka(nil, KafkaConfig{Topic: testTopic, Offset: tt.offset}, nil, nil)
		if got := k.initialOffset(); got != tt.want {
			t.Errorf("offset %q: initialOffset() = %d, want %d", tt.offset, got, tt.want)
		}
	}
}

func TestKafka_ConsumeSurvivesClosedErrors(t *testing.T) {
	pub := &recordingPublisher{}
	k := NewKafka(nil, KafkaConfig{Topic: testTopic}, pub, nil)

	messages := make(chan *sarama.ConsumerMessage)
	errs := make(chan *sarama.ConsumerError)
	close(errs)

	done := make(chan struct{})
	go func() {
		k.consume(context.Background(), messages, errs)
		close(done)
	}()

	messages <- message(`{"type":"botStatus","data":{"bot_id":"b1","status":"paused"}}`)
	messages <- message(`{"type":"metricsTick","data":{"bot_id":"b1","equity":10000}}`)
	close(messages)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after messages channel closed")
	}

	events, _ := pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
}
