package client

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gaspardpetit/liverelay/internal/frame"
	"github.com/gaspardpetit/liverelay/internal/logx"
	"github.com/gaspardpetit/liverelay/internal/wire"
)

var errEmptyFrame = errors.New("frame has no payload")

// EncodeFrame converts one captured frame to its wire form.
func EncodeFrame(f frame.Frame) (wire.FrameData, error) {
	if len(f.Payload) == 0 {
		return wire.FrameData{}, errEmptyFrame
	}
	mime := f.MimeType
	if mime == "" {
		mime = frame.MimeJPEG
	}
	if !strings.HasPrefix(mime, "image/") {
		return wire.FrameData{}, fmt.Errorf("unsupported frame type %q", mime)
	}
	return wire.FrameData{
		Data:      base64.StdEncoding.EncodeToString(f.Payload),
		MimeType:  mime,
		Timestamp: f.TimestampMillis(),
		Size:      f.ByteSize,
	}, nil
}

// EncodeFrames encodes frames in order. Frames that fail to encode are
// logged and left out.
func EncodeFrames(frames []frame.Frame) []wire.FrameData {
	out := make([]wire.FrameData, 0, len(frames))
	for i, f := range frames {
		fd, err := EncodeFrame(f)
		if err != nil {
			logx.Log.Warn().Err(err).Int("index", i).Msg("frame encode failed, skipping")
			continue
		}
		out = append(out, fd)
	}
	return out
}
