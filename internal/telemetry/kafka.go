package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// KafkaConfig holds configuration for the Kafka telemetry consumer
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// positionMessage is the JSON payload published by the positioning driver
type positionMessage struct {
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Latitude  *float64  `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64  `json:"longitude" validate:"required,gte=-180,lte=180"`
	Altitude  *float64  `json:"altitude,omitempty"`
}

// DecodeSample parses and validates one position message
func DecodeSample(data []byte, v *validator.Validate) (Sample, error) {
	var msg positionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Sample{}, fmt.Errorf("failed to decode position message: %w", err)
	}
	if err := v.Struct(msg); err != nil {
		return Sample{}, fmt.Errorf("invalid position message: %w", err)
	}

	p := geo.Point{Lat: *msg.Latitude, Lon: *msg.Longitude, Alt: msg.Altitude}
	return Sample{Time: msg.Timestamp.UTC(), Point: p}, nil
}

// KafkaSource reads position fixes from a Kafka topic
type KafkaSource struct {
	reader   *kafka.Reader
	validate *validator.Validate
	logger   *logger.Logger
}

// NewKafkaSource creates a consumer for the given config
func NewKafkaSource(cfg KafkaConfig, log *logger.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaSource{
		reader:   reader,
		validate: validator.New(),
		logger:   log.Named("telemetry-kafka"),
	}
}

func (k *KafkaSource) Name() string { return "kafka" }

// Run consumes messages until ctx is cancelled
func (k *KafkaSource) Run(ctx context.Context, out chan<- Sample) error {
	defer k.reader.Close()

	k.logger.Info("Starting Kafka telemetry consumer",
		logger.Any("brokers", k.reader.Config().Brokers),
		logger.String("topic", k.reader.Config().Topic),
		logger.String("group_id", k.reader.Config().GroupID))

	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			k.logger.Error("Failed to read telemetry message", logger.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		sample, err := DecodeSample(msg.Value, k.validate)
		if err != nil {
			k.logger.Warn("Dropping telemetry message",
				logger.Error(err),
				logger.Int64("offset", msg.Offset))
			continue
		}

		select {
		case out <- sample:
		case <-ctx.Done():
			return nil
		}
	}
}
