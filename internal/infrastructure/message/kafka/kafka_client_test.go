package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/internal/infrastructure/message"
	"github.com/openeeap/haloalign/internal/observability/trace"
	apperrors "github.com/openeeap/haloalign/pkg/errors"
)

func TestKafkaPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("Publishes to the default topic", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			if string(val) != `{"loss/train":0.5}` {
				return errors.New("unexpected payload " + string(val))
			}
			return nil
		})

		pub := NewKafkaPublisherFromProducer(producer, "training.metrics", trace.NewNoopTracer())
		res, err := pub.Publish(ctx, &message.Message{
			Key:     []byte("run-1"),
			Value:   []byte(`{"loss/train":0.5}`),
			Headers: map[string]string{"rank": "0", "mode": "train"},
		})
		require.NoError(t, err)
		assert.Equal(t, "training.metrics", res.Topic)
		require.NoError(t, pub.Close())
	})

	t.Run("Send failure", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		pub := NewKafkaPublisherFromProducer(producer, "training.metrics", nil)
		_, err := pub.Publish(ctx, &message.Message{Value: []byte("{}")})
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInfrastructure))
		require.NoError(t, pub.Close())
	})

	t.Run("Closed publisher", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		pub := NewKafkaPublisherFromProducer(producer, "training.metrics", nil)
		require.NoError(t, pub.Close())
		require.NoError(t, pub.Close())

		_, err := pub.Publish(ctx, &message.Message{Value: []byte("{}")})
		assert.Error(t, err)
	})

	t.Run("Sorted headers", func(t *testing.T) {
		kp := &kafkaPublisher{}
		headers := kp.headers(ctx, map[string]string{"b": "2", "a": "1"})
		require.Len(t, headers, 2)
		assert.Equal(t, "a", string(headers[0].Key))
		assert.Equal(t, "b", string(headers[1].Key))
	})
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = NewKafkaPublisher(&KafkaConfig{Topic: "t"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = NewKafkaPublisher(&KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	cfg := &KafkaConfig{Version: "not-a-version"}
	_, err = SaramaConfig(cfg)
	assert.Error(t, err)

	sc, err := SaramaConfig(&KafkaConfig{ClientID: "haloalign", RequiredAcks: WaitForAll})
	require.NoError(t, err)
	assert.True(t, sc.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, 3, sc.Producer.Retry.Max)
}
