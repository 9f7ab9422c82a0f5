package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePromoSweep = "promo:sweep"
	TaskTypeNotifySend = "notify:send"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the weighted queue set consumed by the worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// NotifyPayload carries one rendered-on-delivery user notification.
type NotifyPayload struct {
	UserID int64             `json:"user_id"`
	Key    string            `json:"key"`
	Params map[string]string `json:"params,omitempty"`
}

// NewPromoSweepTask builds the periodic sweep task. Unique for one period so
// a slow worker never has two sweeps of the same tick queued.
func NewPromoSweepTask(period time.Duration) *asynq.Task {
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
	}
	if period > 0 {
		opts = append(opts, asynq.Unique(period), asynq.Timeout(period))
	}

	return asynq.NewTask(TaskTypePromoSweep, nil, opts...)
}

// NewNotifySendTask builds a notification delivery task. Delivery is not retried.
func NewNotifySendTask(payload NotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeNotifySend, data, asynq.Queue(QueueCritical), asynq.MaxRetry(0)), nil
}
