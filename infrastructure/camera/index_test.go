package camera

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type failingGrabber struct {
	reads atomic.Int32
}

func (g *failingGrabber) Read(_ *gocv.Mat) bool {
	g.reads.Add(1)
	return false
}

func TestLoopBacksOffWhileReadsFail(t *testing.T) {
	grabber := &failingGrabber{}
	s := &Stream{
		source: grabber,
		done:   make(chan struct{}),
	}

	go s.loop()
	time.Sleep(4 * readRetryDelay)

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	<-s.done

	// With a dead device the loop must pace its retries, not spin: a few
	// hundred milliseconds allows only a handful of read attempts.
	n := grabber.reads.Load()
	require.Greater(t, n, int32(0))
	assert.LessOrEqual(t, n, int32(10))
}
