package dispatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStream_FanOut(t *testing.T) {
	s := newErrorStream(4)
	a := s.subscribe()
	b := s.subscribe()

	want := errors.New("boom")
	s.publish(want)

	assert.Same(t, want, <-a)
	assert.Same(t, want, <-b)
}

func TestErrorStream_DropsOldestWhenFull(t *testing.T) {
	s := newErrorStream(3)
	ch := s.subscribe()

	for i := 0; i < 5; i++ {
		s.publish(fmt.Errorf("err-%d", i))
	}

	require.Len(t, ch, 3)
	assert.EqualError(t, <-ch, "err-2")
	assert.EqualError(t, <-ch, "err-3")
	assert.EqualError(t, <-ch, "err-4")
}

func TestErrorStream_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	s := newErrorStream(1)
	slow := s.subscribe()
	fast := s.subscribe()

	s.publish(errors.New("first"))
	assert.EqualError(t, <-fast, "first")

	// slow never drained; the next publish evicts its only entry.
	s.publish(errors.New("second"))
	assert.EqualError(t, <-fast, "second")
	assert.EqualError(t, <-slow, "second")
}

func TestErrorStream_ClampsBufferToOne(t *testing.T) {
	s := newErrorStream(0)
	ch := s.subscribe()

	s.publish(errors.New("only"))
	assert.EqualError(t, <-ch, "only")
}

func TestErrorStream_NewestSurvivesConcurrentDrain(t *testing.T) {
	s := newErrorStream(1)
	ch := s.subscribe()

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range ch {
			got = append(got, err.Error())
		}
	}()

	for i := 0; i < 200; i++ {
		s.publish(fmt.Errorf("err-%d", i))
	}
	s.close()
	<-done

	// Whatever the drain raced away, the last published error is the
	// last one received.
	require.NotEmpty(t, got)
	assert.Equal(t, "err-199", got[len(got)-1])
}

func TestErrorStream_CloseEndsSubscriptions(t *testing.T) {
	s := newErrorStream(2)
	ch := s.subscribe()
	s.publish(errors.New("pending"))

	s.close()
	s.publish(errors.New("after close"))

	assert.EqualError(t, <-ch, "pending")
	_, open := <-ch
	assert.False(t, open)

	// Subscriptions after close come back already closed.
	late := s.subscribe()
	_, open = <-late
	assert.False(t, open)

	s.close()
}
