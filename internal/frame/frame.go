// Package frame holds captured screen frames and the bounded buffer that
// keeps the most recent ones until a user turn drains them.
package frame

import "time"

// MimeJPEG is the MIME type of frames produced by the capturer.
const MimeJPEG = "image/jpeg"

// Frame is one encoded still image sampled from a video surface.
//
// A Frame is never mutated after creation. Payload is owned by the Frame
// until it is drained and encoded for transmission.
type Frame struct {
	// Payload holds the encoded image bytes.
	Payload []byte
	// MimeType describes Payload, typically image/jpeg.
	MimeType string
	// CapturedAt is the capture time; buffers order frames by it.
	CapturedAt time.Time
	// ByteSize is len(Payload) computed once at creation.
	ByteSize int
	Width    int
	Height   int
}

// New builds a Frame from an encoded payload.
func New(payload []byte, mimeType string, capturedAt time.Time) Frame {
	if mimeType == "" {
		mimeType = MimeJPEG
	}
	return Frame{
		Payload:    payload,
		MimeType:   mimeType,
		CapturedAt: capturedAt,
		ByteSize:   len(payload),
	}
}

// TimestampMillis returns CapturedAt as milliseconds since the Unix epoch.
func (f Frame) TimestampMillis() int64 {
	return f.CapturedAt.UnixMilli()
}
