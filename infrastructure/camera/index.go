// Package camera provides threaded frame capture. A background goroutine
// continuously pulls frames from the device into a single-slot latest-frame
// buffer; a slow consumer simply drops frames rather than building a
// backlog.
package camera

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"sentinel.io/infrastructure/logger"
)

// readRetryDelay paces the capture loop while the device is failing reads.
const readRetryDelay = 100 * time.Millisecond

// frameGrabber is the slice of gocv.VideoCapture the reader loop needs.
type frameGrabber interface {
	Read(m *gocv.Mat) bool
}

// Stream owns one capture device and its reader goroutine.
type Stream struct {
	device *gocv.VideoCapture
	source frameGrabber

	mu      sync.Mutex
	frame   gocv.Mat
	grabbed bool
	stopped bool
	done    chan struct{}
}

// Open opens the capture device and starts the reader goroutine. If the
// given device fails to open, device index 1 is tried as a fallback.
func Open(deviceID, width, height, fps int) (*Stream, error) {
	device, err := gocv.OpenVideoCapture(deviceID)
	if err != nil || !device.IsOpened() {
		logger.Warning("camera failed to open, trying fallback device", logger.LoggerOptions{
			Key:  "device",
			Data: deviceID,
		})
		device, err = gocv.OpenVideoCapture(1)
		if err != nil {
			return nil, fmt.Errorf("failed to open any camera: %w", err)
		}
		if !device.IsOpened() {
			device.Close()
			return nil, fmt.Errorf("failed to open any camera")
		}
	}

	device.Set(gocv.VideoCaptureFrameWidth, float64(width))
	device.Set(gocv.VideoCaptureFrameHeight, float64(height))
	device.Set(gocv.VideoCaptureFPS, float64(fps))

	s := &Stream{
		device: device,
		source: device,
		frame:  gocv.NewMat(),
		done:   make(chan struct{}),
	}

	// Grab one frame synchronously so a dead device fails Open rather
	// than the first Read.
	if ok := device.Read(&s.frame); !ok {
		s.frame.Close()
		device.Close()
		return nil, fmt.Errorf("failed to grab first frame from camera")
	}
	s.grabbed = true

	go s.loop()

	logger.Info("camera stream started", logger.LoggerOptions{
		Key: "camera",
		Data: map[string]interface{}{
			"device": deviceID,
			"width":  width,
			"height": height,
			"fps":    fps,
		},
	})
	return s, nil
}

func (s *Stream) loop() {
	defer close(s.done)
	buf := gocv.NewMat()
	defer buf.Close()

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		// Read blocks on the device until the next frame is available.
		// A failed read means the device is gone or stalled; back off so
		// the loop does not spin hot while it recovers.
		if ok := s.source.Read(&buf); !ok || buf.Empty() {
			time.Sleep(readRetryDelay)
			continue
		}

		s.mu.Lock()
		if !s.stopped {
			buf.CopyTo(&s.frame)
			s.grabbed = true
		}
		s.mu.Unlock()
	}
}

// Read returns an independent copy of the most recent frame. The caller
// owns the returned Mat and must Close it. ok is false when no frame has
// been captured yet or the stream is stopped.
func (s *Stream) Read() (gocv.Mat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.grabbed || s.stopped || s.frame.Empty() {
		return gocv.Mat{}, false
	}
	return s.frame.Clone(), true
}

// Stop signals the reader goroutine, waits for it, and releases the device.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Close()
	s.device.Close()
}
