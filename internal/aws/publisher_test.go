package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisher_Publish(t *testing.T) {
	fake := &fakeSQS{}
	p := NewPublisher(fake, "https://sqs.local/notifications")

	err := p.Publish(context.Background(), "charge.completed", map[string]string{"charge_id": "c-1"}, map[string]string{"tenant": "acme"})
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "https://sqs.local/notifications", *in.QueueUrl)
	assert.Equal(t, "charge.completed", *in.MessageAttributes[EventTypeAttribute].StringValue)
	assert.Equal(t, "acme", *in.MessageAttributes["tenant"].StringValue)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &body))
	assert.Equal(t, "c-1", body["charge_id"])
}

func TestPublisher_PublishError(t *testing.T) {
	p := NewPublisher(&fakeSQS{err: errors.New("throttled")}, "q")
	err := p.Publish(context.Background(), "charge.completed", struct{}{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
