package kafka

import (
	"strconv"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// Envelope is the record written to the progressive events topic.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Forwarder publishes selected bus events to Kafka so back-office systems can follow
// hits, awards and faults.
type Forwarder struct {
	sender Sender
	topic  string
	clock  quartz.Clock
	logger zerolog.Logger
}

// NewForwarder subscribes to every bus event. A nil sender disables forwarding.
func NewForwarder(bus *events.Bus, sender Sender, topic string, clock quartz.Clock, logger zerolog.Logger) *Forwarder {
	f := &Forwarder{
		sender: sender,
		topic:  topic,
		clock:  clock,
		logger: logging.WithComponent(logger, "kafka_forwarder"),
	}
	if sender != nil {
		bus.SubscribeAll(f, f.forward)
	}
	return f
}

// Close stops forwarding.
func (f *Forwarder) Close(bus *events.Bus) {
	bus.UnsubscribeAll(f)
}

func (f *Forwarder) forward(evt any) {
	name, key, ok := describe(evt)
	if !ok {
		return
	}
	env := Envelope{Type: name, Payload: evt, Timestamp: f.clock.Now().UTC()}
	if err := f.sender.Send(f.topic, key, env); err != nil {
		f.logger.Warn().Err(err).Str("type", name).Msg("Failed to forward event")
	}
}

// describe names the forwarded events and picks the partition key. Other events stay in process.
func describe(evt any) (name, key string, ok bool) {
	switch e := evt.(type) {
	case progressive.ProgressiveHitEvent:
		return "progressive_hit", strconv.Itoa(e.Transaction.DeviceID), true
	case progressive.ProgressiveCommittedEvent:
		return "progressive_committed", strconv.Itoa(e.Transaction.DeviceID), true
	case progressive.SapAwardedEvent:
		return "sap_awarded", strconv.Itoa(e.DeviceID), true
	case progressive.SharedSapAwardedEvent:
		return "shared_sap_awarded", e.SharedID, true
	case progressive.LinkedAwardedEvent:
		return "linked_awarded", e.LevelName, true
	case progressive.LinkedHitEvent:
		return "linked_hit", e.LevelName, true
	case progressive.LinkedClaimedEvent:
		return "linked_claimed", e.LevelName, true
	case progressive.LinkedResetEvent:
		return "linked_reset", e.LevelName, true
	case progressive.ProgressiveLockupEvent:
		return "progressive_lockup", e.Source, true
	case progressive.MinimumThresholdErrorEvent:
		return "minimum_threshold_error", "shared", true
	case progressive.MinimumThresholdClearedEvent:
		return "minimum_threshold_cleared", "shared", true
	case progressive.LinkedDisconnectedEvent:
		return "linked_disconnected", "linked", true
	case progressive.LinkedConnectedEvent:
		return "linked_connected", "linked", true
	case progressive.LinkedExpiredEvent:
		return "linked_expired", "linked", true
	case progressive.LinkedRefreshedEvent:
		return "linked_refreshed", "linked", true
	case progressive.LinkedCommitTimeoutEvent:
		return "linked_commit_timeout", "linked", true
	case progressive.LinkedCommitTimeoutClearedEvent:
		return "linked_commit_timeout_cleared", "linked", true
	default:
		return "", "", false
	}
}
