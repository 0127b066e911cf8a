package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Message types sent by the linked progressive host
const (
	MessageLevelAdd    = "level_add"
	MessageLevelUpdate = "level_update"
	MessageLevelRemove = "level_remove"
	MessageLinkUp      = "link_up"
	MessageLinkDown    = "link_down"
	MessageClaimAward  = "claim_award"
)

// HostMessage is the envelope of every record on the linked host topic.
type HostMessage struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// LevelAddPayload carries new linked levels.
type LevelAddPayload struct {
	Levels []struct {
		LevelName          string `mapstructure:"level_name"`
		ProtocolName       string `mapstructure:"protocol_name"`
		ProgressiveGroupID int    `mapstructure:"progressive_group_id"`
		LevelID            int    `mapstructure:"level_id"`
		Amount             int64  `mapstructure:"amount"`
	} `mapstructure:"levels"`
}

// LevelUpdatePayload carries a batch of value pushes.
type LevelUpdatePayload struct {
	Levels []progressive.LinkedLevelUpdate `mapstructure:"levels"`
}

// LevelRemovePayload names levels the host no longer offers.
type LevelRemovePayload struct {
	LevelNames []string `mapstructure:"level_names"`
}

// LinkPayload reports host connectivity for a protocol or a progressive group.
type LinkPayload struct {
	Protocol string `mapstructure:"protocol"`
	GroupID  int    `mapstructure:"group_id"`
}

// ClaimAwardPayload is the host's award for a hit it has accepted.
type ClaimAwardPayload struct {
	LevelName string                `mapstructure:"level_name"`
	Amount    *int64                `mapstructure:"amount"`
	PayMethod progressive.PayMethod `mapstructure:"pay_method"`
}

// LinkedHost is the part of the linked provider driven by host messages.
type LinkedHost interface {
	AddLinkedProgressiveLevels(ctx context.Context, added []progressive.LinkedProgressiveLevel) error
	UpdateLinkedProgressiveLevels(ctx context.Context, updates []progressive.LinkedLevelUpdate) error
	RemoveLinkedProgressiveLevels(ctx context.Context, names []string) error
	ReportLinkUp(ctx context.Context, protocol string) error
	ReportLinkDown(ctx context.Context, protocol string) error
	ReportLinkUpByGroup(ctx context.Context, groupID int) error
	ReportLinkDownByGroup(ctx context.Context, groupID int) error
	ClaimAndAwardLinkedProgressiveLevel(ctx context.Context, name string, amount int64, method progressive.PayMethod) error
}

// Consumer applies linked host messages to the linked provider.
type Consumer struct {
	reader *kafka.Reader
	host   LinkedHost
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	Logger        zerolog.Logger
}

// NewConsumer creates a consumer for the linked host topic. The reader is nil when no broker is
// configured and Start is then a no-op.
func NewConsumer(config ConsumerConfig, host LinkedHost) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	var reader *kafka.Reader
	if len(config.Brokers) > 0 {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        config.Brokers,
			Topic:          config.Topic,
			GroupID:        config.ConsumerGroup,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		})
	}

	return &Consumer{
		reader: reader,
		host:   host,
		logger: logging.WithComponent(config.Logger, "kafka_consumer"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins consuming messages
func (c *Consumer) Start() error {
	if c.reader == nil {
		c.logger.Info().Msg("No Kafka brokers configured, linked host consumer disabled")
		return nil
	}
	c.wg.Add(1)
	go c.consume()
	c.logger.Info().Msg("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	if c.reader == nil {
		return nil
	}

	if err := c.reader.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Error closing Kafka reader")
		return err
	}
	c.logger.Info().Msg("Kafka consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error().Err(err).Msg("Error fetching message from Kafka")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.Handle(c.ctx, msg); err != nil {
			c.logger.Error().
				Err(err).
				Str("topic", msg.Topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Error handling message")
		}

		if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
			c.logger.Error().Err(err).Msg("Error committing message")
		}
	}
}

// Handle decodes one host message and applies it.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	var env HostMessage
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return apperrors.Wrap(err, apperrors.ErrKafkaError, "malformed host message")
	}
	c.logger.Debug().Str("type", env.Type).Str("key", string(msg.Key)).Msg("Host message received")

	switch env.Type {
	case MessageLevelAdd:
		var p LevelAddPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		levels := make([]progressive.LinkedProgressiveLevel, 0, len(p.Levels))
		for _, l := range p.Levels {
			levels = append(levels, progressive.LinkedProgressiveLevel{
				LevelName:          l.LevelName,
				ProtocolName:       l.ProtocolName,
				ProgressiveGroupID: l.ProgressiveGroupID,
				LevelID:            l.LevelID,
				Amount:             l.Amount,
			})
		}
		return c.host.AddLinkedProgressiveLevels(ctx, levels)

	case MessageLevelUpdate:
		var p LevelUpdatePayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		return c.host.UpdateLinkedProgressiveLevels(ctx, p.Levels)

	case MessageLevelRemove:
		var p LevelRemovePayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		return c.host.RemoveLinkedProgressiveLevels(ctx, p.LevelNames)

	case MessageLinkUp, MessageLinkDown:
		var p LinkPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		up := env.Type == MessageLinkUp
		switch {
		case p.Protocol != "" && up:
			return c.host.ReportLinkUp(ctx, p.Protocol)
		case p.Protocol != "":
			return c.host.ReportLinkDown(ctx, p.Protocol)
		case up:
			return c.host.ReportLinkUpByGroup(ctx, p.GroupID)
		default:
			return c.host.ReportLinkDownByGroup(ctx, p.GroupID)
		}

	case MessageClaimAward:
		var p ClaimAwardPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		amount := progressive.AwardRecordedAmount
		if p.Amount != nil {
			amount = *p.Amount
		}
		method := p.PayMethod
		if method == progressive.PayUnknown {
			method = progressive.PayCreditMeter
		}
		return c.host.ClaimAndAwardLinkedProgressiveLevel(ctx, p.LevelName, amount, method)

	default:
		c.logger.Warn().Str("type", env.Type).Msg("Skipping unknown host message")
		return nil
	}
}

func decode(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrKafkaError, "failed to build payload decoder")
	}
	if err := decoder.Decode(input); err != nil {
		return apperrors.Wrap(err, apperrors.ErrKafkaError, "malformed host payload")
	}
	return nil
}
