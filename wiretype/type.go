// Package wiretype converts application values to and from the byte payloads
// carried by a typed socket. Numeric values use fixed widths in big-endian
// order; strings are UTF-8; images go through a named image format.
package wiretype

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type is the declared wire type of a connection direction.
type Type int

// Wire types.
const (
	String Type = iota
	Byte
	UnsignedByte
	Short
	UnsignedShort
	Int
	UnsignedInt
	Long
	Float
	Double
	Image
)

// ErrUnknownType is returned when a type name is not recognized.
var ErrUnknownType = errors.New("unknown wire type")

var typeNames = [...]string{
	String:        "STRING",
	Byte:          "BYTE",
	UnsignedByte:  "UNSIGNED_BYTE",
	Short:         "SHORT",
	UnsignedShort: "UNSIGNED_SHORT",
	Int:           "INT",
	UnsignedInt:   "UNSIGNED_INT",
	Long:          "LONG",
	Float:         "FLOAT",
	Double:        "DOUBLE",
	Image:         "IMAGE",
}

// Types lists every wire type in declaration order.
func Types() []Type {
	out := make([]Type, len(typeNames))
	for i := range typeNames {
		out[i] = Type(i)
	}
	return out
}

func (t Type) String() string {
	if !t.Valid() {
		return "Type(" + strconv.Itoa(int(t)) + ")"
	}
	return typeNames[t]
}

// Valid reports whether t is one of the declared wire types.
func (t Type) Valid() bool {
	return t >= String && t <= Image
}

// Numeric reports whether t is a fixed-width number.
func (t Type) Numeric() bool {
	return t >= Byte && t <= Double
}

// Width returns the encoded size of one element of t, or 0 for types without
// a fixed width.
func (t Type) Width() int {
	switch t {
	case Byte, UnsignedByte:
		return 1
	case Short, UnsignedShort:
		return 2
	case Int, UnsignedInt, Float:
		return 4
	case Long, Double:
		return 8
	default:
		return 0
	}
}

// Parse returns the Type named s. Matching ignores case, and underscores and
// spaces may be omitted ("unsigned_short", "unsignedshort", "Unsigned Short").
func Parse(s string) (Type, error) {
	want := normalize(s)
	for i, name := range typeNames {
		if normalize(name) == want {
			return Type(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownType, "%q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrUnknownType, "%d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(s)
}
