package subscription

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoop_RunsInOrder(t *testing.T) {
	l := newEventLoop(zerolog.Nop())
	go l.run()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.post(func() { got = append(got, i) }))
	}

	done := make(chan struct{})
	l.post(func() {
		l.stop()
		close(done)
	})
	<-done
	<-l.done

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventLoop_PostFromInsideDoesNotBlock(t *testing.T) {
	l := newEventLoop(zerolog.Nop())
	go l.run()

	done := make(chan struct{})
	var depth int
	var nest func()
	nest = func() {
		depth++
		if depth == 1000 {
			close(done)
			return
		}
		l.post(nest)
	}
	l.post(nest)
	<-done

	l.post(l.stop)
	<-l.done
	assert.Equal(t, 1000, depth)
}

func TestEventLoop_RecoversPanics(t *testing.T) {
	l := newEventLoop(zerolog.Nop())
	go l.run()

	ran := make(chan struct{})
	l.post(func() { panic("boom") })
	l.post(func() { close(ran) })
	<-ran

	l.post(l.stop)
	<-l.done
	assert.False(t, l.post(func() {}))
}
