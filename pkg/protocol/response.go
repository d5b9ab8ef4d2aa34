package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"slices"
)

// MaxDimension bounds the width and height a response may announce.
const MaxDimension = 16384

const responseHeaderSize = 8

// pixelChunk bounds how much pixel storage is reserved ahead of the bytes
// that have actually arrived.
const pixelChunk = 64 << 10

var (
	ErrFrameTooLarge = errors.New("protocol: response dimensions exceed limit")
	ErrPixelLength   = errors.New("protocol: pixel data length does not match dimensions")
)

// PixelBuffer is a rendered thumbnail: Width*Height*4 bytes of RGBA, row-major,
// no row padding.
type PixelBuffer struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// Empty reports whether b carries no image.
func (b *PixelBuffer) Empty() bool {
	return b == nil || b.Width == 0 || b.Height == 0
}

// Size is the payload length in bytes.
func (b *PixelBuffer) Size() int {
	if b.Empty() {
		return 0
	}
	return int(b.Width) * int(b.Height) * 4
}

// Clone returns a deep copy of b. Cloning nil yields nil.
func (b *PixelBuffer) Clone() *PixelBuffer {
	if b == nil {
		return nil
	}
	return &PixelBuffer{Width: b.Width, Height: b.Height, Pixels: slices.Clone(b.Pixels)}
}

// Image wraps the pixels in an *image.NRGBA without copying.
func (b *PixelBuffer) Image() *image.NRGBA {
	if b.Empty() {
		return nil
	}
	return &image.NRGBA{
		Pix:    b.Pixels,
		Stride: int(b.Width) * 4,
		Rect:   image.Rect(0, 0, int(b.Width), int(b.Height)),
	}
}

// FromImage packs img into a PixelBuffer, dropping any stride padding.
// A nil or empty image yields nil.
func FromImage(img *image.NRGBA) *PixelBuffer {
	if img == nil {
		return nil
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}

	rowLen := w * 4
	pix := make([]byte, rowLen*h)
	for y := range h {
		start := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		copy(pix[y*rowLen:(y+1)*rowLen], img.Pix[start:start+rowLen])
	}
	return &PixelBuffer{Width: uint32(w), Height: uint32(h), Pixels: pix}
}

// AppendResponse appends the response frame for buf to dst. A nil or empty
// buf produces the "no result" frame: two zero dimensions and no payload.
func AppendResponse(dst []byte, buf *PixelBuffer) ([]byte, error) {
	if buf.Empty() {
		dst = binary.NativeEndian.AppendUint32(dst, 0)
		return binary.NativeEndian.AppendUint32(dst, 0), nil
	}
	if buf.Width > MaxDimension || buf.Height > MaxDimension {
		return dst, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, buf.Width, buf.Height)
	}
	if len(buf.Pixels) != buf.Size() {
		return dst, fmt.Errorf("%w: have %d, want %d", ErrPixelLength, len(buf.Pixels), buf.Size())
	}

	dst = binary.NativeEndian.AppendUint32(dst, uint32(int32(buf.Width)))
	dst = binary.NativeEndian.AppendUint32(dst, uint32(int32(buf.Height)))
	return append(dst, buf.Pixels...), nil
}

// EncodeResponse writes the response frame for buf with a single Write call.
func EncodeResponse(w io.Writer, buf *PixelBuffer) error {
	frame, err := AppendResponse(make([]byte, 0, responseHeaderSize+buf.Size()), buf)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ResponseDecoder reassembles response frames in two phases: the 8-byte
// dimension header, then exactly width*height*4 pixel bytes.
//
// The zero value is ready to use.
type ResponseDecoder struct {
	header  [responseHeaderSize]byte
	hfill   int
	pixels  []byte
	want    int
	width   int32
	height  int32
	reading bool // phase 2

	result *PixelBuffer
}

// Feed consumes bytes from p until p is exhausted or a frame completes and
// returns how many bytes it consumed. It never reads past the end of the
// current frame. When the second return value is true the frame is available
// through Result and the decoder is already positioned at the next frame.
func (d *ResponseDecoder) Feed(p []byte) (int, bool, error) {
	n := 0
	if !d.reading {
		c := copy(d.header[d.hfill:], p)
		d.hfill += c
		n += c
		if d.hfill < responseHeaderSize {
			return n, false, nil
		}

		d.width = int32(binary.NativeEndian.Uint32(d.header[0:4]))
		d.height = int32(binary.NativeEndian.Uint32(d.header[4:8]))
		d.hfill = 0

		if d.width <= 0 || d.height <= 0 {
			d.result = nil
			return n, true, nil
		}
		if d.width > MaxDimension || d.height > MaxDimension {
			return n, false, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, d.width, d.height)
		}

		d.want = int(d.width) * int(d.height) * 4
		d.pixels = make([]byte, 0, min(d.want, pixelChunk))
		d.reading = true
	}

	// Storage grows with the payload, so a header alone cannot make the
	// decoder reserve the whole announced frame.
	c := min(len(p)-n, d.want-len(d.pixels))
	d.pixels = append(d.pixels, p[n:n+c]...)
	n += c
	if len(d.pixels) < d.want {
		return n, false, nil
	}

	d.result = &PixelBuffer{Width: uint32(d.width), Height: uint32(d.height), Pixels: d.pixels}
	d.pixels = nil
	d.want = 0
	d.reading = false
	return n, true, nil
}

// Result returns the most recently completed frame, nil for "no result".
func (d *ResponseDecoder) Result() *PixelBuffer {
	r := d.result
	d.result = nil
	return r
}

// Pending reports whether a frame has been partially received.
func (d *ResponseDecoder) Pending() bool {
	return d.hfill > 0 || d.reading
}
