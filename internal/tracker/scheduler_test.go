package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	common "github.com/example/email-messenger/internal/adapters/common"
	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
)

const queueURL = "https://sqs.example.com/tracker"

type mockSQSClient struct {
	mock.Mock
}

func (m *mockSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sqs.SendMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func trackedPayload() *models.MessagePayload {
	return &models.MessagePayload{
		ID:        17,
		IsTracked: true,
		From:      "noreply@example.com",
		To:        []string{"user@example.com"},
		Subject:   "Invoice",
		BodyType:  models.BodyTypeHTML,
		Body:      "<p>hi</p>",
	}
}

func TestScheduleSuccess(t *testing.T) {
	client := new(mockSQSClient)
	scheduler, err := New(client, queueURL, zerolog.Nop())
	require.NoError(t, err)

	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		var req Request
		if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &req); err != nil {
			return false
		}
		attr := in.MessageAttributes["MessageOutboxID"]
		return aws.ToString(in.QueueUrl) == queueURL &&
			req.MessageOutboxID == 17 &&
			req.Subject == "Invoice" &&
			aws.ToString(attr.StringValue) == "17"
	})).Return(&sqs.SendMessageOutput{MessageId: aws.String("sqs-1")}, nil)

	id, err := scheduler.Schedule(context.Background(), trackedPayload())

	assert.NoError(t, err)
	assert.Equal(t, "sqs-1", id)
	client.AssertExpectations(t)
}

func TestScheduleTransientFailure(t *testing.T) {
	client := new(mockSQSClient)
	scheduler, err := New(client, queueURL, zerolog.Nop())
	require.NoError(t, err)

	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err = scheduler.Schedule(context.Background(), trackedPayload())

	assert.ErrorIs(t, err, common.ErrTransient)
	assert.Contains(t, err.Error(), "connection reset")
	client.AssertExpectations(t)
}

func TestScheduleMissingQueueIsPermanent(t *testing.T) {
	client := new(mockSQSClient)
	scheduler, err := New(client, queueURL, zerolog.Nop())
	require.NoError(t, err)

	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, &types.QueueDoesNotExist{})

	_, err = scheduler.Schedule(context.Background(), trackedPayload())

	assert.ErrorIs(t, err, common.ErrPermanent)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, queueURL, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(new(mockSQSClient), "", zerolog.Nop())
	assert.Error(t, err)
}

func TestStaticEndpointResolvesFixedURI(t *testing.T) {
	resolver, err := newStaticEndpoint("http://localhost:4566")
	require.NoError(t, err)

	ep, err := resolver.ResolveEndpoint(context.Background(), sqs.EndpointParameters{Region: aws.String("eu-west-1")})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URI.String())

	_, err = newStaticEndpoint("localhost:4566/no-scheme")
	assert.Error(t, err)
}

func TestNewFromConfigRejectsBadEndpoint(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.TrackerConfig{
		QueueURL: queueURL,
		Region:   "eu-west-1",
		Endpoint: "not a url",
	}, zerolog.Nop())
	assert.Error(t, err)
}
