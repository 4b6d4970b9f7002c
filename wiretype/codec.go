package wiretype

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Errors returned by Encode and Decode.
var (
	// ErrShortPayload is returned when a numeric payload holds less than one element.
	ErrShortPayload = errors.New("payload shorter than one element")
	// ErrUnsupportedValue is returned when a value cannot be encoded as the requested type.
	ErrUnsupportedValue = errors.New("unsupported value for wire type")
)

// Encode serializes v for the wire type t. imageFormat selects the image
// encoding when t is Image; an empty name means DefaultImageFormat.
//
// String accepts string, []byte, or any value printable with fmt. Numeric
// types accept any Go integer or float, or a slice or array of them; each
// element is converted to the width of t. Image accepts an image.Image.
func Encode(v any, t Type, imageFormat string) ([]byte, error) {
	switch {
	case t == String:
		return encodeString(v), nil
	case t == Image:
		img, ok := v.(image.Image)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedValue, "%T as %s", v, t)
		}
		return EncodeImage(img, imageFormat)
	case t.Numeric():
		return encodeNumeric(v, t)
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%d", int(t))
	}
}

func encodeString(v any) []byte {
	switch s := v.(type) {
	case string:
		return []byte(s)
	case []byte:
		return append([]byte(nil), s...)
	default:
		return []byte(fmt.Sprint(v))
	}
}

func encodeNumeric(v any, t Type) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errors.Wrapf(ErrUnsupportedValue, "nil as %s", t)
	}

	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return appendNumber(make([]byte, 0, t.Width()), t, rv)
	}

	n := rv.Len()
	out := make([]byte, 0, n*t.Width())
	for i := 0; i < n; i++ {
		var err error
		out, err = appendNumber(out, t, rv.Index(i))
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
	}
	return out, nil
}

func appendNumber(dst []byte, t Type, v reflect.Value) ([]byte, error) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}

	var (
		i int64
		f float64
	)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i = v.Int()
		f = float64(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		i = int64(v.Uint())
		f = float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		f = v.Float()
		i = int64(f)
	default:
		return nil, errors.Wrapf(ErrUnsupportedValue, "%s as %s", v.Kind(), t)
	}

	be := binary.BigEndian
	switch t {
	case Byte, UnsignedByte:
		return append(dst, byte(i)), nil
	case Short, UnsignedShort:
		return be.AppendUint16(dst, uint16(i)), nil
	case Int, UnsignedInt:
		return be.AppendUint32(dst, uint32(i)), nil
	case Long:
		return be.AppendUint64(dst, uint64(i)), nil
	case Float:
		return be.AppendUint32(dst, math.Float32bits(float32(f))), nil
	case Double:
		return be.AppendUint64(dst, math.Float64bits(f)), nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "%d", int(t))
}

// Decode interprets b as one message of wire type t.
//
// String yields a string. Image yields an image.Image; see IsIncomplete for
// telling truncated images from corrupt ones. Numeric types yield a single
// scalar when b holds exactly one element and a slice otherwise. Trailing
// bytes that do not fill a whole element are ignored; Trailing reports them.
func Decode(b []byte, t Type) (any, error) {
	switch {
	case t == String:
		if !utf8.Valid(b) {
			return strings.ToValidUTF8(string(b), string(utf8.RuneError)), nil
		}
		return string(b), nil
	case t == Image:
		return DecodeImage(b)
	case t.Numeric():
		return decodeNumeric(b, t)
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%d", int(t))
	}
}

// Trailing returns how many bytes at the end of a payload of n bytes do not
// form a complete element of t.
func Trailing(n int, t Type) int {
	w := t.Width()
	if w == 0 {
		return 0
	}
	return n % w
}

// PartialRune returns how many bytes at the end of b start a UTF-8 sequence
// that b does not complete. Invalid bytes are not counted.
func PartialRune(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return 0
			}
			return len(b) - i
		}
	}
	return 0
}

func decodeNumeric(b []byte, t Type) (any, error) {
	w := t.Width()
	count := len(b) / w
	if count == 0 {
		return nil, errors.Wrapf(ErrShortPayload, "%d bytes for %s", len(b), t)
	}

	be := binary.BigEndian
	var out any
	switch t {
	case Byte:
		out = decodeSlice(b, w, func(p []byte) int8 { return int8(p[0]) })
	case UnsignedByte:
		out = decodeSlice(b, w, func(p []byte) uint8 { return p[0] })
	case Short:
		out = decodeSlice(b, w, func(p []byte) int16 { return int16(be.Uint16(p)) })
	case UnsignedShort:
		out = decodeSlice(b, w, be.Uint16)
	case Int:
		out = decodeSlice(b, w, func(p []byte) int32 { return int32(be.Uint32(p)) })
	case UnsignedInt:
		out = decodeSlice(b, w, be.Uint32)
	case Long:
		out = decodeSlice(b, w, func(p []byte) int64 { return int64(be.Uint64(p)) })
	case Float:
		out = decodeSlice(b, w, func(p []byte) float32 { return math.Float32frombits(be.Uint32(p)) })
	case Double:
		out = decodeSlice(b, w, func(p []byte) float64 { return math.Float64frombits(be.Uint64(p)) })
	}

	if count == 1 {
		return reflect.ValueOf(out).Index(0).Interface(), nil
	}
	return out, nil
}

func decodeSlice[T any](b []byte, width int, conv func([]byte) T) []T {
	out := make([]T, len(b)/width)
	for i := range out {
		out[i] = conv(b[i*width : (i+1)*width])
	}
	return out
}

// Explode splits a decoded array into its elements. Scalars, strings and
// images come back as a single element.
func Explode(v any) []any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
