package socket

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/Zereker/typedsocket/wiretype"
)

// Config is the file form of a connection's options.
//
//	send_type = "INT"
//	receive_type = "string"
//	raw_bytes = false
//	emit_batch_as_available = false
//	image_format = "png"
//	buffer_size = 16
//	max_frame_length = 1048576
//	heartbeat = "15s"
type Config struct {
	SendType             string
	ReceiveType          string
	RawBytes             bool
	EmitBatchAsAvailable bool
	ImageFormat          string
	BufferSize           int
	MaxFrameLength       int
	Heartbeat            time.Duration
}

type fileConfig struct {
	SendType             string `toml:"send_type"`
	ReceiveType          string `toml:"receive_type"`
	RawBytes             bool   `toml:"raw_bytes"`
	EmitBatchAsAvailable bool   `toml:"emit_batch_as_available"`
	ImageFormat          string `toml:"image_format"`
	BufferSize           int    `toml:"buffer_size"`
	MaxFrameLength       int    `toml:"max_frame_length"`
	Heartbeat            string `toml:"heartbeat"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		SendType:       wiretype.String.String(),
		ReceiveType:    wiretype.String.String(),
		ImageFormat:    wiretype.DefaultImageFormat,
		BufferSize:     defaultBufferSize,
		MaxFrameLength: defaultMaxPackageLength,
	}
}

// LoadConfig reads a TOML file. Keys absent from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load socket config")
	}
	return applyFileConfig(raw, meta)
}

// ParseConfig reads TOML text. Keys absent from data keep their
// DefaultConfig values.
func ParseConfig(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse socket config")
	}
	return applyFileConfig(raw, meta)
}

func applyFileConfig(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := DefaultConfig()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("unknown socket config key %q", undecoded[0].String())
	}

	if meta.IsDefined("send_type") {
		cfg.SendType = strings.TrimSpace(raw.SendType)
	}
	if meta.IsDefined("receive_type") {
		cfg.ReceiveType = strings.TrimSpace(raw.ReceiveType)
	}
	if meta.IsDefined("raw_bytes") {
		cfg.RawBytes = raw.RawBytes
	}
	if meta.IsDefined("emit_batch_as_available") {
		cfg.EmitBatchAsAvailable = raw.EmitBatchAsAvailable
	}
	if meta.IsDefined("image_format") {
		cfg.ImageFormat = strings.TrimSpace(raw.ImageFormat)
	}
	if meta.IsDefined("buffer_size") {
		cfg.BufferSize = raw.BufferSize
	}
	if meta.IsDefined("max_frame_length") {
		cfg.MaxFrameLength = raw.MaxFrameLength
	}
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse heartbeat")
		}
		cfg.Heartbeat = d
	}

	return cfg, nil
}

// Options converts cfg into connection options. Unknown wire types and
// image formats are reported here, before any connection exists.
func (cfg Config) Options() ([]Option, error) {
	send, err := wiretype.Parse(cfg.SendType)
	if err != nil {
		return nil, errors.Wrap(err, "send_type")
	}
	receive, err := wiretype.Parse(cfg.ReceiveType)
	if err != nil {
		return nil, errors.Wrap(err, "receive_type")
	}
	if _, err := wiretype.ImageFormat(cfg.ImageFormat); err != nil {
		return nil, errors.Wrap(err, "image_format")
	}

	return []Option{
		SendTypeOption(send),
		ReceiveTypeOption(receive),
		RawBytesOption(cfg.RawBytes),
		EmitBatchOption(cfg.EmitBatchAsAvailable),
		ImageFormatOption(cfg.ImageFormat),
		BufferSizeOption(cfg.BufferSize),
		MessageMaxSize(cfg.MaxFrameLength),
		HeartbeatOption(cfg.Heartbeat),
	}, nil
}
