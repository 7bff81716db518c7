// Package capture samples a video surface on a fixed period, encodes each
// sample as a JPEG frame and appends it to a frame.Buffer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gaspardpetit/liverelay/internal/frame"
	"github.com/gaspardpetit/liverelay/internal/logx"
)

var (
	// ErrSurfaceUnavailable is returned when the surface cannot be read at setup.
	ErrSurfaceUnavailable = errors.New("capture surface unavailable")
	// ErrAlreadyCapturing is returned by Start while a capture is running.
	ErrAlreadyCapturing = errors.New("capture already running")
)

const (
	MinInterval            = time.Second
	MaxInterval            = 10 * time.Second
	DefaultInterval        = time.Second
	DefaultQuality         = 0.7
	DefaultMaxWidth        = 1280
	DefaultMaxHeight       = 720
	DefaultLargeFrameBytes = 500 * 1024
)

// Options tunes sampling and encoding.
type Options struct {
	Interval        time.Duration
	Quality         float64
	MaxWidth        int
	MaxHeight       int
	LargeFrameBytes int
}

func (o Options) normalized() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Interval < MinInterval {
		o.Interval = MinInterval
	}
	if o.Interval > MaxInterval {
		o.Interval = MaxInterval
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	}
	if o.Quality > 1 {
		o.Quality = 1
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.LargeFrameBytes <= 0 {
		o.LargeFrameBytes = DefaultLargeFrameBytes
	}
	return o
}

// Capturer drives periodic sampling of one surface at a time.
type Capturer struct {
	buf *frame.Buffer

	// OnLargeFrame, when set, is called for frames above LargeFrameBytes.
	OnLargeFrame func(frame.Frame)
	// OnError, when set, receives per-tick grab and encode failures.
	OnError func(error)

	mu        sync.Mutex
	capturing bool
	surface   Surface
	opts      Options
	width     int
	height    int
	cancel    context.CancelFunc
	done      chan struct{}

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewCapturer returns a Capturer that appends to buf.
func NewCapturer(buf *frame.Buffer) *Capturer {
	return &Capturer{
		buf: buf,
		now: time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start begins sampling surface. One frame is captured before Start
// returns so a frame is available without waiting a full period.
func (c *Capturer) Start(surface Surface, opts Options) error {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return ErrAlreadyCapturing
	}
	b := surface.Bounds()
	if b.Empty() {
		c.mu.Unlock()
		return fmt.Errorf("%w: empty bounds", ErrSurfaceUnavailable)
	}
	img, err := surface.Grab()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}
	c.opts = opts.normalized()
	c.width, c.height = FitWithin(b.Dx(), b.Dy(), c.opts.MaxWidth, c.opts.MaxHeight)
	c.surface = surface
	c.capturing = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	logx.Log.Info().Int("width", c.width).Int("height", c.height).Dur("interval", c.opts.Interval).Msg("capture started")
	c.admit(img)

	tick, stop := c.newTicker(c.opts.Interval)
	go c.loop(ctx, tick, stop)
	return nil
}

func (c *Capturer) loop(ctx context.Context, tick <-chan time.Time, stop func()) {
	defer close(c.done)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.captureOnce()
		}
	}
}

func (c *Capturer) captureOnce() {
	c.mu.Lock()
	s := c.surface
	c.mu.Unlock()
	if s == nil {
		return
	}
	img, err := s.Grab()
	if err != nil {
		c.fail(fmt.Errorf("grab frame: %w", err))
		return
	}
	c.admit(img)
}

// admit encodes img and appends it unless capture stopped meanwhile.
func (c *Capturer) admit(img image.Image) {
	c.mu.Lock()
	w, h, q, large := c.width, c.height, c.opts.Quality, c.opts.LargeFrameBytes
	c.mu.Unlock()

	data, err := encodeJPEG(img, w, h, q)
	if err != nil {
		c.fail(fmt.Errorf("encode frame: %w", err))
		return
	}
	f := frame.New(data, frame.MimeJPEG, c.now())
	f.Width, f.Height = w, h

	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	c.buf.Append(f)
	c.mu.Unlock()

	logx.Log.Debug().Int("bytes", f.ByteSize).Int("buffered", c.buf.Size()).Msg("frame captured")
	if f.ByteSize > large {
		logx.Log.Warn().Int("kb", f.ByteSize/1024).Msg("large frame")
		if c.OnLargeFrame != nil {
			c.OnLargeFrame(f)
		}
	}
}

func (c *Capturer) fail(err error) {
	logx.Log.Warn().Err(err).Msg("frame skipped")
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Stop cancels sampling and releases the surface. Buffered frames are kept.
func (c *Capturer) Stop() {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	c.capturing = false
	cancel, done, s := c.cancel, c.done, c.surface
	c.cancel, c.surface = nil, nil
	c.mu.Unlock()

	cancel()
	<-done
	if err := s.Close(); err != nil {
		logx.Log.Debug().Err(err).Msg("close surface")
	}
	logx.Log.Info().Msg("capture stopped")
}

// Capturing reports whether sampling is active.
func (c *Capturer) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Size returns the render target computed at Start.
func (c *Capturer) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}
