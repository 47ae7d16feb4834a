package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	N int `json:"n"`
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	conn, err := nats.Connect(nats.DefaultURL, nats.Timeout(300*time.Millisecond))
	if err != nil {
		t.Skip("NATS not available, skipping")
	}
	defer conn.Close()

	got := make(chan int, 1)
	sub := NewSubscriberWithConn(conn, func(subject string, data []byte) error {
		p, err := UnmarshalJSON[ping](data)
		if err != nil {
			return err
		}
		got <- p.N
		return nil
	}, nil)
	require.NoError(t, sub.Subscribe("test.options.ping"))
	defer sub.Close()

	pub := NewPublisherWithConn(conn)
	require.NoError(t, pub.Publish("test.options.ping", ping{N: 7}))
	require.NoError(t, pub.Flush())

	select {
	case n := <-got:
		assert.Equal(t, 7, n)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestUnmarshalJSON_Invalid(t *testing.T) {
	_, err := UnmarshalJSON[ping]([]byte("{"))
	assert.Error(t, err)
}
