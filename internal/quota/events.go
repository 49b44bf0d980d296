package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AppGateway/internal/audit"
	log "github.com/sirupsen/logrus"
)

// EventsChannel carries threshold events as JSON.
const EventsChannel = "quota:events"

// ThresholdEvent is emitted the first time a dimension crosses a warning level in a cycle.
type ThresholdEvent struct {
	AppID      string    `json:"app_id"`
	Dimension  string    `json:"dimension"`
	Level      string    `json:"level"`
	Used       float64   `json:"used"`
	Limit      int64     `json:"limit"`
	Ratio      float64   `json:"ratio"`
	CycleStart time.Time `json:"cycle_start"`
	At         time.Time `json:"at"`
}

// Notifier receives threshold events. Implementations must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, e ThresholdEvent)
}

// LogNotifier only logs events.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, e ThresholdEvent) {
	log.WithFields(log.Fields{
		"app_id":    e.AppID,
		"dimension": e.Dimension,
		"level":     e.Level,
		"used":      e.Used,
		"limit":     e.Limit,
	}).Info("quota threshold reached")
}

// RedisNotifier publishes events on EventsChannel and records them in the audit log.
type RedisNotifier struct {
	client  redis.UniversalClient
	auditor Auditor
}

// NewRedisNotifier constructs a RedisNotifier. auditor may be nil.
func NewRedisNotifier(client redis.UniversalClient, auditor Auditor) *RedisNotifier {
	return &RedisNotifier{client: client, auditor: auditor}
}

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, e ThresholdEvent) {
	LogNotifier{}.Notify(ctx, e)
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if n.client != nil {
		if errPub := n.client.Publish(ctx, EventsChannel, payload).Err(); errPub != nil {
			log.WithError(errPub).WithField("app_id", e.AppID).Warn("quota: publish threshold event failed")
		}
	}
	if n.auditor != nil {
		errRecord := n.auditor.Record(ctx, audit.Event{
			Actor:  "system",
			Action: audit.ActionQuotaThreshold,
			AppID:  e.AppID,
			Detail: map[string]any{
				"dimension":   e.Dimension,
				"level":       e.Level,
				"used":        e.Used,
				"limit":       e.Limit,
				"cycle_start": e.CycleStart,
			},
		})
		if errRecord != nil {
			log.WithError(errRecord).WithField("app_id", e.AppID).Warn("quota: audit threshold event failed")
		}
	}
}
