// Package protocol implements the framing used between the thumbnail service
// and its render worker.
//
// Requests travel parent to child as six NUL-terminated fields. Responses
// travel child to parent as two native-endian int32 dimensions followed by the
// raw RGBA pixels. Both directions have incremental decoders that accept
// arbitrarily chunked input.
package protocol

import (
	"errors"
	"fmt"
)

// Kind selects which rendering routine the worker runs for a request.
type Kind uint8

const (
	KindMeta Kind = iota
	KindWidget
	KindWindowDecoration
	KindIcon
)

// Wire tags, one per Kind.
const (
	TagMeta             = "meta"
	TagWidget           = "ctk"
	TagWindowDecoration = "croma"
	TagIcon             = "icon"
)

var ErrUnknownKind = errors.New("protocol: unknown theme kind")

// Kinds returns every kind in wire order.
func Kinds() []Kind {
	return []Kind{KindMeta, KindWidget, KindWindowDecoration, KindIcon}
}

// Tag returns the wire tag for k.
func (k Kind) Tag() string {
	switch k {
	case KindMeta:
		return TagMeta
	case KindWidget:
		return TagWidget
	case KindWindowDecoration:
		return TagWindowDecoration
	case KindIcon:
		return TagIcon
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindWidget:
		return "widget"
	case KindWindowDecoration:
		return "window-decoration"
	case KindIcon:
		return "icon"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool {
	return k <= KindIcon
}

// ParseKind accepts either a wire tag ("ctk") or the human name ("widget").
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if s == k.Tag() || s == k.String() {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
