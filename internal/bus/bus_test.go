package bus

import (
	"context"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishSendsToTopic(t *testing.T) {
	broker := mocks.NewSyncProducer(t, NewProducerConfig())
	broker.ExpectSendMessageAndSucceed()

	p := &Producer{sync: broker}
	err := p.Publish(context.Background(), TopicPush, []byte(`{"title":"hi"}`))
	require.NoError(t, err)
}

func TestProducer_PublishReturnsErrorOnFailure(t *testing.T) {
	broker := mocks.NewSyncProducer(t, NewProducerConfig())
	broker.ExpectSendMessageAndFail(assert.AnError)

	p := &Producer{sync: broker}
	err := p.Publish(context.Background(), TopicEmail, []byte(`{}`))
	assert.Error(t, err)
}
