package frame

import "sync"

// DefaultMaxFrames is the buffer capacity used when none is configured.
const DefaultMaxFrames = 30

// Buffer is a bounded FIFO of frames, oldest first.
//
// Append is driven by the capture timer while DrainAll and Clear are driven
// by user actions, so every operation takes the buffer lock.
type Buffer struct {
	mu        sync.Mutex
	frames    []Frame
	maxFrames int
}

// NewBuffer returns an empty buffer holding at most maxFrames frames.
// Non-positive values select DefaultMaxFrames.
func NewBuffer(maxFrames int) *Buffer {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &Buffer{maxFrames: maxFrames, frames: make([]Frame, 0, maxFrames)}
}

// Append adds f at the tail, evicting the oldest frame when the buffer is
// over capacity. It always succeeds.
func (b *Buffer) Append(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.frames); n > 0 && f.CapturedAt.Before(b.frames[n-1].CapturedAt) {
		// keep capture order monotonic when the wall clock steps backwards
		f.CapturedAt = b.frames[n-1].CapturedAt
	}
	b.frames = append(b.frames, f)
	if over := len(b.frames) - b.maxFrames; over > 0 {
		clear(b.frames[:over])
		b.frames = b.frames[over:]
	}
}

// DrainAll returns every buffered frame in capture order and empties the buffer.
func (b *Buffer) DrainAll() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.frames
	b.frames = make([]Frame, 0, b.maxFrames)
	return out
}

// Clear empties the buffer without returning its contents.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.frames = make([]Frame, 0, b.maxFrames)
	b.mu.Unlock()
}

// Size returns the number of buffered frames.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return b.maxFrames }

// TotalBytes returns the summed payload size of buffered frames.
func (b *Buffer) TotalBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, f := range b.frames {
		total += f.ByteSize
	}
	return total
}
