package wiretype

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// DefaultImageFormat is used when no image format is configured.
const DefaultImageFormat = "jpeg"

// Image errors.
var (
	// ErrUnknownImageFormat is returned for an image format name that has no encoder.
	ErrUnknownImageFormat = errors.New("unknown image format")
	// ErrIncompleteImage marks a decode failure caused by missing trailing bytes.
	ErrIncompleteImage = errors.New("incomplete image data")
	// ErrBadImage marks a decode failure caused by corrupt or unrecognized data.
	ErrBadImage = errors.New("bad image data")
)

type imageEncoder func(w io.Writer, img image.Image) error

var imageEncoders = map[string]imageEncoder{
	"jpeg": func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpeg.DefaultQuality})
	},
	"png": png.Encode,
	"gif": func(w io.Writer, img image.Image) error {
		return gif.Encode(w, img, nil)
	},
	"bmp": bmp.Encode,
	"tiff": func(w io.Writer, img image.Image) error {
		return tiff.Encode(w, img, nil)
	},
}

var imageAliases = map[string]string{
	"":    DefaultImageFormat,
	"jpg": "jpeg",
	"tif": "tiff",
}

// Leading bytes of every format Decode understands.
var imageMagics = [][]byte{
	[]byte("\xff\xd8"),
	[]byte("\x89PNG\r\n\x1a\n"),
	[]byte("GIF8"),
	[]byte("BM"),
	[]byte("II*\x00"),
	[]byte("MM\x00*"),
}

// ImageFormat returns the canonical name of an image format, or
// ErrUnknownImageFormat.
func ImageFormat(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := imageAliases[n]; ok {
		n = alias
	}
	if _, ok := imageEncoders[n]; !ok {
		return "", errors.Wrapf(ErrUnknownImageFormat, "%q", name)
	}
	return n, nil
}

// EncodeImage encodes img in the named format.
func EncodeImage(img image.Image, format string) ([]byte, error) {
	name, err := ImageFormat(format)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imageEncoders[name](&buf, img); err != nil {
		return nil, errors.Wrapf(err, "encode %s", name)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes b as a complete image in any registered format. When
// b looks like the beginning of a valid image the error wraps
// ErrIncompleteImage; otherwise it wraps ErrBadImage.
func DecodeImage(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err == nil {
		return img, nil
	}
	if truncated(b, err) {
		return nil, errors.Wrap(ErrIncompleteImage, err.Error())
	}
	return nil, errors.Wrap(ErrBadImage, err.Error())
}

// IsIncomplete reports whether err came from decoding a truncated image.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncompleteImage)
}

func truncated(b []byte, err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, image.ErrFormat) {
		// Too short to recognize, but consistent with a known header.
		for _, magic := range imageMagics {
			if len(b) < len(magic) && bytes.HasPrefix(magic, b) {
				return true
			}
		}
		return false
	}

	// Some decoders flatten the underlying EOF into their own message.
	var fe png.FormatError
	if errors.As(err, &fe) && string(fe) == "not enough pixel data" {
		return true
	}
	return strings.Contains(err.Error(), io.ErrUnexpectedEOF.Error())
}
