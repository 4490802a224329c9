// Package source поставляет события ботов в хаб шлюза: из Kafka или из симулятора.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	jsoniter "github.com/json-iterator/go"

	"botdash/internal/metrics"
	"botdash/internal/models"
	"botdash/pkg/retry"
	"botdash/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	kafkaInitialBackoff = 500 * time.Millisecond
	kafkaMaxBackoff     = 30 * time.Second
)

// Publisher - получатель событий (gateway.Hub)
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}, source string) (models.StreamEvent, error)
}

// envelope - формат сообщения в топике
type envelope struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

// KafkaConfig - параметры чтения топика
type KafkaConfig struct {
	Topic     string
	Partition int32
	Offset    string // newest, oldest
}

// Kafka читает события ботов из партиции топика и публикует их в хаб
//
// Назначение:
// Боты пишут события в Kafka, шлюз раздаёт их дашбордам.
// Сообщение топика: {"type": "botStatus", "data": {...}}.
//
// Функции:
// - ConsumePartition с повторами (pkg/retry) при недоступности брокера
// - Отбрасывание сообщений с неизвестным типом или битым JSON
// - Логирование ошибок потребителя
//
// Использование:
//
//	consumer, _ := source.NewKafkaConsumer(brokers)
//	k := source.NewKafka(consumer, cfg, hub, logger)
//	go k.Run(ctx)
type Kafka struct {
	consumer  sarama.Consumer
	cfg       KafkaConfig
	publisher Publisher
	log       *utils.Logger

	retryInitial time.Duration
}

// NewKafkaConsumer создаёт sarama.Consumer для списка брокеров
func NewKafkaConsumer(brokers []string) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.ClientID = "botdash-gateway"

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return consumer, nil
}

// NewKafka создаёт источник поверх готового consumer
func NewKafka(consumer sarama.Consumer, cfg KafkaConfig, publisher Publisher, logger *utils.Logger) *Kafka {
	if cfg.Offset == "" {
		cfg.Offset = "newest"
	}
	return &Kafka{
		consumer:  consumer,
		cfg:       cfg,
		publisher: publisher,
		log:       utils.OrGlobal(logger).WithComponent("kafka-source"),

		retryInitial: kafkaInitialBackoff,
	}
}

func (k *Kafka) initialOffset() int64 {
	if k.cfg.Offset == "oldest" {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

// Run читает партицию до отмены ctx
func (k *Kafka) Run(ctx context.Context) error {
	cfg := retry.Config{
		InitialDelay: k.retryInitial,
		MaxDelay:     kafkaMaxBackoff,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		RetryIf: func(err error) bool {
			return retry.IsRetryable(err) && !errors.Is(err, sarama.ErrOffsetOutOfRange)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			k.log.Warn("Retrying Kafka partition consumer",
				utils.String("topic", k.cfg.Topic), utils.Attempt(attempt), utils.Delay(delay), utils.Err(err))
		},
	}

	pc, err := retry.DoWithResult(ctx, func() (sarama.PartitionConsumer, error) {
		return k.consumer.ConsumePartition(k.cfg.Topic, k.cfg.Partition, k.initialOffset())
	}, cfg)
	if err != nil {
		return fmt.Errorf("consume %s/%d: %w", k.cfg.Topic, k.cfg.Partition, err)
	}
	defer pc.Close()

	k.log.Info("Kafka source started",
		utils.String("topic", k.cfg.Topic),
		utils.Int("partition", int(k.cfg.Partition)),
		utils.String("offset", k.cfg.Offset))

	k.consume(ctx, pc.Messages(), pc.Errors())
	return nil
}

// consume читает сообщения до отмены ctx или закрытия канала сообщений.
// Закрытый канал ошибок отключается, чтобы select не крутился на нём вхолостую.
func (k *Kafka) consume(ctx context.Context, messages <-chan *sarama.ConsumerMessage, errs <-chan *sarama.ConsumerError) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				return
			}
			k.handle(ctx, msg)

		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			k.log.Error("Kafka consumer error", utils.Err(cerr))
		}
	}
}

// handle публикует одно сообщение; ошибки только логируются
func (k *Kafka) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || env.Type == "" || len(env.Data) == 0 {
		metrics.SourceMessages.WithLabelValues("kafka", "malformed").Inc()
		k.log.Warn("Dropping malformed Kafka message",
			utils.Int64("offset", msg.Offset), utils.Err(err))
		return
	}

	if env.Type == models.EventMessage || !models.IsKnownEventType(env.Type) {
		metrics.SourceMessages.WithLabelValues("kafka", "rejected").Inc()
		k.log.Warn("Dropping Kafka message with unknown type",
			utils.EventType(env.Type), utils.Int64("offset", msg.Offset))
		return
	}

	if _, err := k.publisher.Publish(ctx, env.Type, []byte(env.Data), "kafka"); err != nil {
		metrics.SourceMessages.WithLabelValues("kafka", "failed").Inc()
		k.log.Error("Failed to publish Kafka message",
			utils.EventType(env.Type), utils.Int64("offset", msg.Offset), utils.Err(err))
		return
	}

	metrics.SourceMessages.WithLabelValues("kafka", "published").Inc()
}

// Close закрывает consumer
func (k *Kafka) Close() error {
	return k.consumer.Close()
}
