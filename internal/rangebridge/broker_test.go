package rangebridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPuller struct {
	calls atomic.Int32
}

func (p *countingPuller) Request(ctx context.Context, offset int64) ([]byte, error) {
	p.calls.Add(1)
	if offset < 0 {
		return nil, errors.New("bad offset")
	}
	return []byte{byte(offset)}, nil
}

func TestBrokerServe(t *testing.T) {
	b := NewBroker()
	p := &countingPuller{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, p)

	data, err := b.Fetch(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, data)

	_, err = b.Fetch(context.Background(), -1)
	assert.EqualError(t, err, "bad offset")
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestBrokerIDsAreLocal(t *testing.T) {
	a, b := NewBroker(), NewBroker()

	go a.Fetch(context.Background(), 1)
	go b.Fetch(context.Background(), 2)

	callA := <-a.Calls()
	callB := <-b.Calls()
	assert.Equal(t, BrokerID(1), callA.ID)
	assert.Equal(t, BrokerID(1), callB.ID)

	go a.Fetch(context.Background(), 3)
	next := <-a.Calls()
	assert.Equal(t, BrokerID(2), next.ID)
	assert.Equal(t, int64(3), next.Offset)

	assert.True(t, a.Resolve(callA.ID, nil, nil))
	assert.False(t, a.Resolve(callA.ID, nil, nil))
	assert.False(t, a.Resolve(99, nil, nil))
}

func TestBrokerFetchHonoursContext(t *testing.T) {
	b := NewBroker()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Fetch(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// nobody is serving, so the call was never taken
	select {
	case call := <-b.Calls():
		t.Fatalf("unexpected call %v", call)
	default:
	}
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker()

	errc := make(chan error, 1)
	go func() {
		_, err := b.Fetch(context.Background(), 0)
		errc <- err
	}()
	<-b.Calls()

	b.Close()
	b.Close()
	assert.ErrorIs(t, <-errc, ErrBrokerClosed)

	_, err := b.Fetch(context.Background(), 0)
	assert.ErrorIs(t, err, ErrBrokerClosed)
	assert.ErrorIs(t, b.Serve(context.Background(), &countingPuller{}), ErrBrokerClosed)
}
