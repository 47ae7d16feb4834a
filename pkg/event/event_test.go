package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/kafka"
)

var (
	optAddr = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	writer  = common.HexToAddress("0x00000000000000000000000000000000000000B2")
)

func TestEvent_KeyAndCodec(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := New(OptionBought, 99, optAddr, writer, at).With("premium", "100")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "99", e.Key())

	data, err := e.Value()
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, OptionBought, back.Type)
	assert.Equal(t, optAddr, back.Subject)
	assert.Equal(t, "100", back.Data["premium"])
	assert.True(t, at.Equal(back.OccurredAt))

	ledger := New(LedgerTransfer, 0, optAddr, writer, at)
	assert.Equal(t, optAddr.Hex(), ledger.Key())
}

func TestMulti_TriesAllAndJoinsErrors(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("boom")
	failing := PublisherFunc(func(context.Context, *Event) error { return boom })

	m := Multi{failing, nil, rec}
	err := m.Publish(context.Background(), New(OfferCreated, 1, optAddr, writer, time.Now()))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []Type{OfferCreated}, rec.Types())
	assert.Equal(t, 1, rec.Count(OfferCreated))

	rec.Reset()
	assert.Empty(t, rec.Events())
	assert.NoError(t, OrNop(nil).Publish(context.Background(), nil))
}

type fakeSender struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, m kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	s := &fakeSender{}
	p := NewKafkaPublisher(s, "")

	e := New(OptionExercised, 5, optAddr, writer, time.Now())
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, s.msgs, 1)
	assert.Equal(t, DefaultTopic, s.msgs[0].Topic())
	assert.Equal(t, "5", s.msgs[0].Key())
	body, err := s.msgs[0].Value()
	require.NoError(t, err)
	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, e.ID, decoded.ID)

	s.err = errors.New("closed")
	assert.ErrorContains(t, p.Publish(context.Background(), e), "OPTION_EXERCISED")
}

type fakeRaw struct {
	subjects []string
}

func (f *fakeRaw) PublishRaw(subject string, _ []byte) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func TestNatsPublisher(t *testing.T) {
	raw := &fakeRaw{}
	p := NewNatsPublisher(raw, "opt")

	require.NoError(t, p.Publish(context.Background(), New(OfferAccepted, 1, optAddr, writer, time.Now())))
	assert.Equal(t, []string{"opt.OFFER_ACCEPTED"}, raw.subjects)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, New(OfferAccepted, 1, optAddr, writer, time.Now())), context.Canceled)
}
