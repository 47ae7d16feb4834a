package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_SendThroughMock(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputAndSucceed()
	mp.ExpectInputAndFail(errors.New("broker down"))

	p := WrapProducer(mp, nil)

	ctx := context.Background()
	require.NoError(t, p.Send(ctx, NewMessage("options.events", "42", []byte(`{"a":1}`))))
	require.NoError(t, p.Send(ctx, NewMessage("options.events", "42", []byte(`{"a":2}`))))

	// 失败是异步回报的
	assert.Eventually(t, func() bool { return p.Stats().ErrorCount == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Close())
	assert.Equal(t, int64(2), p.Stats().SentCount)

	assert.ErrorIs(t, p.Send(ctx, NewMessage("t", "k", nil)), ErrProducerClosed)
	assert.NoError(t, p.Close(), "second close is a no-op")
}

func TestProducerConfig_SaramaConfig(t *testing.T) {
	sc := DefaultProducerConfig([]string{"localhost:9092"}).SaramaConfig()
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
	assert.True(t, sc.Producer.Return.Errors)
}
