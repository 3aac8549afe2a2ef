package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/mq"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func sampleEvent() domain.RiskAlertEvent {
	alert := &domain.RiskAlert{
		ID:             "A1",
		AlertType:      domain.AlertTypeLimitBreach,
		Severity:       domain.SeverityCritical,
		AccountCode:    "ACC1",
		Symbol:         "XYZ",
		CurrentValue:   decimal.NewFromInt(125000),
		LimitValue:     decimal.NewFromInt(100000),
		UtilizationPct: decimal.NewFromInt(125),
	}
	return domain.NewRiskAlertEvent("E1", "corr-1", alert, time.Now())
}

func TestKafkaAlertPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaAlertPublisher(w)

	require.NoError(t, p.PublishRiskAlert(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "ACC1:CRITICAL", string(msg.Key))
	assert.Equal(t, "corr-1", mq.Header(msg, mq.HeaderCorrelationID))
	assert.Equal(t, "RiskAlert", mq.Header(msg, "eventType"))

	var decoded domain.RiskAlertEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "A1", decoded.AlertID)
	assert.Equal(t, "125.00", decoded.UtilizationPct)
}

func TestKafkaAlertPublisherError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	err := NewKafkaAlertPublisher(w).PublishRiskAlert(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "broker down")
}
