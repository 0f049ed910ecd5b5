package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a frame body. The values
// are written on the wire as the first frame byte.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration value onto a Compression.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("codec: unknown compression %q", name)
	}
}

// MaxFrameBody bounds the declared uncompressed size of a frame.
const MaxFrameBody = 1 << 20

var (
	errIncompressible = errors.New("codec: data is incompressible")

	// ErrShortFrame is returned for frames without a complete header.
	ErrShortFrame = errors.New("codec: short frame")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameBody))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Framer wraps message bodies in frames:
//
//	[1 byte compression][uvarint uncompressed length][body]
//
// Bodies smaller than Threshold, or that do not shrink, are sent
// uncompressed.
type Framer struct {
	Compression Compression
	Threshold   int
}

// Frame builds a frame around body.
func (f Framer) Frame(body []byte) ([]byte, error) {
	if len(body) > MaxFrameBody {
		return nil, fmt.Errorf("codec: body of %d bytes exceeds %d", len(body), MaxFrameBody)
	}
	tag := f.Compression
	payload := body
	if tag != CompressionNone && len(body) >= f.Threshold {
		compressed, err := compress(body, tag)
		switch {
		case errors.Is(err, errIncompressible):
			tag = CompressionNone
		case err != nil:
			return nil, err
		default:
			payload = compressed
		}
	} else {
		tag = CompressionNone
	}

	frame := make([]byte, 0, 1+binary.MaxVarintLen32+len(payload))
	frame = append(frame, byte(tag))
	frame = binary.AppendUvarint(frame, uint64(len(body)))
	return append(frame, payload...), nil
}

// Encode encodes msg and frames it.
func (f Framer) Encode(msg Message) ([]byte, error) {
	body, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	return f.Frame(body)
}

// Unframe returns the decompressed body of frame and the algorithm it used.
func Unframe(frame []byte) ([]byte, Compression, error) {
	if len(frame) < 2 {
		return nil, CompressionNone, ErrShortFrame
	}
	tag := Compression(frame[0])
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 {
		return nil, tag, ErrShortFrame
	}
	if size > MaxFrameBody {
		return nil, tag, fmt.Errorf("codec: declared size %d exceeds %d", size, MaxFrameBody)
	}
	body, err := decompress(frame[1+n:], tag, int(size))
	return body, tag, err
}

// Decode unframes and decodes a message.
func Decode(frame []byte) (Message, error) {
	body, _, err := Unframe(frame)
	if err != nil {
		return Message{}, err
	}
	return DecodeMessage(body)
}

func compress(data []byte, tag Compression) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression %s", tag)
	}
}

func decompress(payload []byte, tag Compression, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("codec: uncompressed frame of %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("codec: lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("codec: zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression %s", tag)
	}
}
