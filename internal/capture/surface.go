package capture

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	// decoders for surfaces backed by image files
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Surface is a live video source that can be sampled on demand.
type Surface interface {
	// Bounds reports the native resolution of the surface.
	Bounds() image.Rectangle
	// Grab returns the current picture.
	Grab() (image.Image, error)
	// Close releases the surface. Grab fails afterwards.
	Close() error
}

var errSurfaceClosed = errors.New("surface closed")

// FileSurface samples an image file that an external tool keeps
// overwriting, such as a periodic screenshot.
type FileSurface struct {
	path   string
	mu     sync.Mutex
	bounds image.Rectangle
	closed bool
}

// NewFileSurface opens path and records its resolution.
func NewFileSurface(path string) (*FileSurface, error) {
	s := &FileSurface{path: path}
	img, err := s.decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}
	s.bounds = img.Bounds()
	return s, nil
}

func (s *FileSurface) decode() (image.Image, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return img, nil
}

// Bounds implements Surface.
func (s *FileSurface) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

// Grab implements Surface.
func (s *FileSurface) Grab() (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errSurfaceClosed
	}
	return s.decode()
}

// Close implements Surface.
func (s *FileSurface) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ImageSurface serves a fixed picture.
type ImageSurface struct {
	img    image.Image
	mu     sync.Mutex
	closed bool
}

// NewImageSurface wraps img as a Surface.
func NewImageSurface(img image.Image) *ImageSurface {
	return &ImageSurface{img: img}
}

// Bounds implements Surface.
func (s *ImageSurface) Bounds() image.Rectangle {
	if s.img == nil {
		return image.Rectangle{}
	}
	return s.img.Bounds()
}

// Grab implements Surface.
func (s *ImageSurface) Grab() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSurfaceClosed
	}
	if s.img == nil {
		return nil, errors.New("no image")
	}
	return s.img, nil
}

// Close implements Surface.
func (s *ImageSurface) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *ImageSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
