// Package tracker hands tracked messages to the email tracker tool, which
// consumes scheduling requests from an SQS queue and performs delivery itself.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
	"github.com/rs/zerolog"

	common "github.com/example/email-messenger/internal/adapters/common"
	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
)

// SQSAPI is the subset of the SQS client used by the scheduler.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Request is the body the tracker tool expects on its intake queue.
type Request struct {
	MessageOutboxID int      `json:"message_outbox_id"`
	From            string   `json:"from"`
	To              []string `json:"to"`
	CC              []string `json:"cc,omitempty"`
	BCC             []string `json:"bcc,omitempty"`
	Subject         string   `json:"subject"`
	BodyType        string   `json:"body_type"`
	Body            string   `json:"body"`
}

// Scheduler enqueues tracked messages for the tracker tool.
type Scheduler struct {
	client   SQSAPI
	queueURL string
	logger   zerolog.Logger
}

// New builds a scheduler around an existing SQS client.
func New(client SQSAPI, queueURL string, logger zerolog.Logger) (*Scheduler, error) {
	if client == nil {
		return nil, errors.New("tracker: sqs client is required")
	}
	if queueURL == "" {
		return nil, errors.New("tracker: queue url is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Scheduler{client: client, queueURL: queueURL, logger: logger}, nil
}

// NewFromConfig loads the default AWS configuration chain and targets the
// configured intake queue. A non-empty Endpoint pins the SQS client to that
// URI, e.g. LocalStack.
func NewFromConfig(ctx context.Context, cfg config.TrackerConfig, logger zerolog.Logger) (*Scheduler, error) {
	var sqsOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		resolver, err := newStaticEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		sqsOpts = append(sqsOpts, sqs.WithEndpointResolverV2(resolver))
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracker: load aws configuration: %w", err)
	}
	return New(sqs.NewFromConfig(awsCfg, sqsOpts...), cfg.QueueURL, logger)
}

// staticEndpoint resolves every SQS operation to one fixed URI.
type staticEndpoint struct {
	uri url.URL
}

func newStaticEndpoint(raw string) (staticEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return staticEndpoint{}, fmt.Errorf("tracker: parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return staticEndpoint{}, fmt.Errorf("tracker: endpoint %q must be an absolute url", raw)
	}
	return staticEndpoint{uri: *u}, nil
}

func (e staticEndpoint) ResolveEndpoint(context.Context, sqs.EndpointParameters) (smithyendpoints.Endpoint, error) {
	return smithyendpoints.Endpoint{URI: e.uri}, nil
}

// Schedule enqueues payload and returns the SQS message id. A missing queue
// or a body SQS refuses is reported as common.ErrPermanent.
func (s *Scheduler) Schedule(ctx context.Context, payload *models.MessagePayload) (string, error) {
	if payload == nil {
		return "", common.WrapPermanent(errors.New("tracker: payload is nil"))
	}

	body, err := json.Marshal(Request{
		MessageOutboxID: payload.ID,
		From:            payload.From,
		To:              payload.To,
		CC:              payload.CC,
		BCC:             payload.BCC,
		Subject:         payload.Subject,
		BodyType:        payload.BodyType,
		Body:            payload.Body,
	})
	if err != nil {
		return "", common.WrapPermanent(fmt.Errorf("tracker: encode request: %w", err))
	}

	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"MessageOutboxID": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(payload.ID)),
			},
		},
	})
	if err != nil {
		err = fmt.Errorf("tracker: send message to sqs: %w", err)
		var missing *types.QueueDoesNotExist
		var invalid *types.InvalidMessageContents
		if errors.As(err, &missing) || errors.As(err, &invalid) {
			return "", common.WrapPermanent(err)
		}
		return "", common.WrapTransient(err)
	}

	id := aws.ToString(out.MessageId)
	s.logger.Debug().
		Int("message_id", payload.ID).
		Str("sqs_message_id", id).
		Msg("tracker: message scheduled")
	return id, nil
}
