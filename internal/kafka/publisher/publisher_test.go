package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	kafkapublisher "github.com/example/email-messenger/internal/kafka/publisher"
	"github.com/example/email-messenger/internal/models"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	return m.Called(topic, string(key), headers, payload).Error(0)
}

func TestPublishStatus(t *testing.T) {
	prod := new(mockProducer)
	pub := kafkapublisher.New(prod, "status-topic", "dlq-topic")

	event := models.StatusEvent{
		WorkItemID: "item-1",
		EventType:  models.StatusEventCompleted,
		Attempt:    1,
		Outcome:    models.OutcomeSuccess,
		Timestamp:  time.Unix(123, 0).UTC(),
	}

	prod.On("PublishSync", "status-topic", "item-1", mock.Anything, mock.MatchedBy(func(payload []byte) bool {
		var decoded models.StatusEvent
		return json.Unmarshal(payload, &decoded) == nil &&
			decoded.EventType == models.StatusEventCompleted &&
			decoded.Outcome == models.OutcomeSuccess
	})).Return(nil)

	require.NoError(t, pub.PublishStatus(context.Background(), event))
	prod.AssertExpectations(t)

	headers := prod.Calls[0].Arguments.Get(2).(map[string][]byte)
	assert.Equal(t, "application/json", string(headers["content-type"]))
}

func TestPublishDLQ(t *testing.T) {
	prod := new(mockProducer)
	pub := kafkapublisher.New(prod, "status-topic", "dlq-topic")

	prod.On("PublishSync", "dlq-topic", "item-2", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := pub.PublishDLQ(context.Background(), models.DLQRecord{
		WorkItemID: "item-2",
		Attempts:   3,
		Outcome:    models.OutcomeBusinessProcessingFailed,
	})
	assert.ErrorContains(t, err, "publish dlq record")
	assert.ErrorContains(t, err, "broker down")
	prod.AssertExpectations(t)
}

func TestPublisherDisabledTopicAndNilProducer(t *testing.T) {
	prod := new(mockProducer)
	pub := kafkapublisher.New(prod, "", "dlq-topic")
	assert.NoError(t, pub.PublishStatus(context.Background(), models.StatusEvent{WorkItemID: "x"}))
	prod.AssertNotCalled(t, "PublishSync", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	var nilPub *kafkapublisher.Publisher
	assert.ErrorIs(t, nilPub.PublishStatus(context.Background(), models.StatusEvent{}), kafkapublisher.ErrProducerNotInitialised)
	assert.ErrorIs(t, kafkapublisher.New(nil, "s", "d").PublishDLQ(context.Background(), models.DLQRecord{}), kafkapublisher.ErrProducerNotInitialised)
}
