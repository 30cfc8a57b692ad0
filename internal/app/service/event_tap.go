package service

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/TreePulse/internal/app/model"
	"go.uber.org/zap"
)

// EventTap mirrors accepted records onto NATS JetStream so external
// consumers (dashboards, exporters) can follow the event stream without
// touching the durable queue. Publishing is strictly best-effort: a
// missing or failing broker never reaches the request path.
type EventTap struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewEventTap creates a tap over the given JetStream context and makes
// sure the analytics stream exists. js may be nil, in which case every
// publish is a no-op.
func NewEventTap(js nats.JetStreamContext, logger *zap.Logger) (*EventTap, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &EventTap{js: js, logger: logger}
	if js == nil {
		return t, nil
	}

	if _, err := js.StreamInfo(model.TapStreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     model.TapStreamName,
			Subjects: []string{model.TapViewSubject, model.TapClickSubject},
			MaxBytes: model.TapStreamMaxBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create analytics stream: %w", err)
		}
	}
	return t, nil
}

// PublishView forwards one accepted view record to the stream.
func (t *EventTap) PublishView(rec model.ViewRecord) {
	t.publish(model.TapViewSubject, rec)
}

// PublishClick forwards one accepted click record to the stream.
func (t *EventTap) PublishClick(rec model.ClickRecord) {
	t.publish(model.TapClickSubject, rec)
}

func (t *EventTap) publish(subject string, record interface{}) {
	if t == nil || t.js == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		t.logger.Warn("failed to marshal tap record", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := t.js.PublishAsync(subject, data); err != nil {
		t.logger.Debug("failed to publish tap record", zap.String("subject", subject), zap.Error(err))
	}
}
