package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehsan-hn/SmsHub/internal/platform/messagebroker"
)

// Lane separates standard from express traffic. Each lane has its own queue
// subject and retry budget.
type Lane string

const (
	LaneStandard Lane = "standard"
	LaneExpress  Lane = "express"
)

func laneFor(isExpress bool) Lane {
	if isExpress {
		return LaneExpress
	}
	return LaneStandard
}

// Subject returns the NATS subject jobs for this lane are published on.
func (l Lane) Subject() string {
	return fmt.Sprintf("sms.jobs.%s", l)
}

// dispatchJob is the wire payload handed to the worker.
type dispatchJob struct {
	TaskID string `json:"task_id"`
	SMSID  int64  `json:"sms_id"`
}

// Dispatcher hands a message to the asynchronous delivery pipeline and returns
// the task id assigned to the job.
type Dispatcher interface {
	Dispatch(ctx context.Context, smsID int64, lane Lane) (string, error)
}

// NATSDispatcher publishes dispatch jobs to per-lane NATS subjects.
type NATSDispatcher struct {
	broker *messagebroker.NatsClient
}

func NewNATSDispatcher(broker *messagebroker.NatsClient) *NATSDispatcher {
	return &NATSDispatcher{broker: broker}
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, smsID int64, lane Lane) (string, error) {
	job := dispatchJob{
		TaskID: uuid.NewString(),
		SMSID:  smsID,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode dispatch job: %w", err)
	}
	if err := d.broker.Publish(lane.Subject(), data); err != nil {
		return "", fmt.Errorf("failed to publish dispatch job: %w", err)
	}
	return job.TaskID, nil
}
