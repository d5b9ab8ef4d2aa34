package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultFont is what the worker renders with when a request carries no font.
const DefaultFont = "Sans 10"

// MaxFieldLen bounds a single request field. A longer field means the stream
// is not speaking this protocol.
const MaxFieldLen = 4096

const requestFields = 6

var (
	ErrFieldContainsNUL = errors.New("protocol: request field contains NUL byte")
	ErrFieldTooLong     = errors.New("protocol: request field exceeds limit")
)

// Request is one thumbnail render request as it travels on the wire.
// Unused fields are empty.
type Request struct {
	Kind        Kind
	WidgetTheme string
	ColorScheme string
	WMTheme     string
	IconTheme   string
	Font        string
}

func (r Request) fields() [requestFields]string {
	return [requestFields]string{r.Kind.Tag(), r.WidgetTheme, r.ColorScheme, r.WMTheme, r.IconTheme, r.Font}
}

// AppendRequest appends the encoded frame for req to dst.
func AppendRequest(dst []byte, req Request) ([]byte, error) {
	if !req.Kind.valid() {
		return dst, fmt.Errorf("%w: %d", ErrUnknownKind, req.Kind)
	}
	for _, f := range req.fields() {
		if err := checkField(f); err != nil {
			return dst, err
		}
		dst = append(dst, f...)
		dst = append(dst, 0)
	}
	return dst, nil
}

// ValidField reports whether s can travel as a request field.
func ValidField(s string) bool {
	return checkField(s) == nil
}

func checkField(f string) error {
	if len(f) > MaxFieldLen {
		return ErrFieldTooLong
	}
	if strings.IndexByte(f, 0) >= 0 {
		return ErrFieldContainsNUL
	}
	return nil
}

// EncodeRequest writes the frame for req with a single Write call.
func EncodeRequest(w io.Writer, req Request) error {
	frame, err := AppendRequest(nil, req)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// DecoderState is the position of a RequestDecoder within a frame.
type DecoderState uint8

const (
	StateAwaitingRequest DecoderState = iota
	StateReadingKind
	StateReadingWidgetTheme
	StateReadingColorScheme
	StateReadingWMTheme
	StateReadingIconTheme
	StateReadingFont
	StateRendering
)

func (s DecoderState) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateReadingKind:
		return "reading-kind"
	case StateReadingWidgetTheme:
		return "reading-widget-theme"
	case StateReadingColorScheme:
		return "reading-color-scheme"
	case StateReadingWMTheme:
		return "reading-wm-theme"
	case StateReadingIconTheme:
		return "reading-icon-theme"
	case StateReadingFont:
		return "reading-font"
	case StateRendering:
		return "rendering"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// RequestDecoder reassembles request frames from a byte stream delivered in
// chunks of any size. Only the field currently being read is buffered.
//
// The zero value is ready to use.
type RequestDecoder struct {
	state  DecoderState
	field  []byte
	values [requestFields]string
}

// State reports where the decoder is within the current frame.
func (d *RequestDecoder) State() DecoderState {
	return d.state
}

// Feed consumes bytes from p until either p is exhausted or a frame is
// complete, and returns how many bytes it consumed. Bytes after the end of a
// complete frame are left for the caller to feed again once Reset has been
// called. While a frame is pending (StateRendering) Feed consumes nothing.
func (d *RequestDecoder) Feed(p []byte) (int, bool, error) {
	if d.state == StateRendering {
		return 0, true, nil
	}
	if len(p) == 0 {
		return 0, false, nil
	}
	if d.state == StateAwaitingRequest {
		d.state = StateReadingKind
	}

	n := 0
	for n < len(p) {
		idx := bytes.IndexByte(p[n:], 0)
		if idx < 0 {
			if len(d.field)+len(p)-n > MaxFieldLen {
				return n, false, ErrFieldTooLong
			}
			d.field = append(d.field, p[n:]...)
			return len(p), false, nil
		}
		if len(d.field)+idx > MaxFieldLen {
			return n, false, ErrFieldTooLong
		}
		d.field = append(d.field, p[n:n+idx]...)
		n += idx + 1

		d.values[d.state-StateReadingKind] = string(d.field)
		d.field = d.field[:0]
		d.state++
		if d.state == StateRendering {
			return n, true, nil
		}
	}
	return n, false, nil
}

// Request returns the decoded frame. It is only meaningful in StateRendering.
// An unknown kind tag yields ErrUnknownKind together with the other fields so
// the caller can still answer the frame.
func (d *RequestDecoder) Request() (Request, error) {
	if d.state != StateRendering {
		return Request{}, errors.New("protocol: no complete request")
	}
	req := Request{
		WidgetTheme: d.values[1],
		ColorScheme: d.values[2],
		WMTheme:     d.values[3],
		IconTheme:   d.values[4],
		Font:        d.values[5],
	}
	kind, ok := kindFromTag(d.values[0])
	if !ok {
		return req, fmt.Errorf("%w: %q", ErrUnknownKind, d.values[0])
	}
	req.Kind = kind
	return req, nil
}

// Reset returns the decoder to StateAwaitingRequest.
func (d *RequestDecoder) Reset() {
	d.state = StateAwaitingRequest
	d.field = d.field[:0]
	d.values = [requestFields]string{}
}

func kindFromTag(tag string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.Tag() == tag {
			return k, true
		}
	}
	return 0, false
}
