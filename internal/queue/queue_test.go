package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subvox/subvox/pkg/models"
)

// fakeAcknowledger records the broker settlement for one delivery.
type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

type retryCall struct {
	attempt int
	reason  string
}

func taskDelivery(t *testing.T, ack amqp.Acknowledger, attempt int) *amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(&models.ProcessTask{VideoID: "vid-1", FilePath: "videos/vid-1/lecture.mp4"})
	require.NoError(t, err)
	return &amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		Headers:      amqp.Table{retryCountHeader: int32(attempt)},
	}
}

func TestReadAttempt(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"missing", amqp.Table{}, 0},
		{"nil table", nil, 0},
		{"int32", amqp.Table{retryCountHeader: int32(2)}, 2},
		{"int64", amqp.Table{retryCountHeader: int64(3)}, 3},
		{"int", amqp.Table{retryCountHeader: 1}, 1},
		{"wrong type", amqp.Table{retryCountHeader: "2"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAttempt(tt.headers))
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffDelay(0))
	assert.Equal(t, 30*time.Second, backoffDelay(1))
	assert.Equal(t, time.Minute, backoffDelay(2))
	assert.Equal(t, 2*time.Minute, backoffDelay(3))
	assert.Equal(t, 10*time.Minute, backoffDelay(20), "capped")
}

func TestSettleDelivery_SuccessAcks(t *testing.T) {
	ack := &fakeAcknowledger{}
	var retried []retryCall

	settleDelivery(context.Background(), taskDelivery(t, ack, 0),
		func(task *models.ProcessTask, attempt int) error {
			assert.Equal(t, "vid-1", task.VideoID)
			assert.Equal(t, 0, attempt)
			return nil
		},
		func(ctx context.Context, task *models.ProcessTask, attempt int, reason string) error {
			retried = append(retried, retryCall{attempt, reason})
			return nil
		})

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
	assert.Empty(t, retried)
}

func TestSettleDelivery_FailureRequeuesThenAcks(t *testing.T) {
	ack := &fakeAcknowledger{}
	var retried []retryCall

	settleDelivery(context.Background(), taskDelivery(t, ack, 1),
		func(task *models.ProcessTask, attempt int) error {
			return errors.New("whisper unreachable")
		},
		func(ctx context.Context, task *models.ProcessTask, attempt int, reason string) error {
			retried = append(retried, retryCall{attempt, reason})
			return nil
		})

	require.Len(t, retried, 1)
	assert.Equal(t, 2, retried[0].attempt)
	assert.Equal(t, "whisper unreachable", retried[0].reason)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestSettleDelivery_FailedRequeueNacksBackToBroker(t *testing.T) {
	ack := &fakeAcknowledger{}

	settleDelivery(context.Background(), taskDelivery(t, ack, 0),
		func(task *models.ProcessTask, attempt int) error {
			return errors.New("whisper unreachable")
		},
		func(ctx context.Context, task *models.ProcessTask, attempt int, reason string) error {
			return errors.New("broker channel closed")
		})

	assert.Zero(t, ack.acks, "a delivery we could not requeue must not be acked")
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue, "returned to the broker for redelivery")
}

func TestSettleDelivery_MalformedBodyNacksWithoutRequeue(t *testing.T) {
	ack := &fakeAcknowledger{}
	handled := false

	settleDelivery(context.Background(),
		&amqp.Delivery{Acknowledger: ack, Body: []byte("not json")},
		func(task *models.ProcessTask, attempt int) error {
			handled = true
			return nil
		},
		func(ctx context.Context, task *models.ProcessTask, attempt int, reason string) error {
			return nil
		})

	assert.False(t, handled)
	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
}
