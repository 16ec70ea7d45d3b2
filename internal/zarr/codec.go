package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// Options are static; NewWriter cannot fail with them.
		encoder, _ = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder
}

func compress(raw []byte) []byte {
	return zstdEncoder().EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompress(chunk []byte) ([]byte, error) {
	raw, err := zstdDecoder().DecodeAll(chunk, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return raw, nil
}

func encodeFloat16(values []float32) []byte {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
	}
	return buf
}

func decodeFloat16(buf []byte, dst []float32) error {
	if len(buf) != 2*len(dst) {
		return fmt.Errorf("float16 chunk has %d bytes, want %d", len(buf), 2*len(dst))
	}
	for i := range dst {
		dst[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
	}
	return nil
}

func encodeInt64(values []int64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return buf
}

func decodeInt64(buf []byte) ([]int64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("int64 chunk has %d bytes", len(buf))
	}
	out := make([]int64, len(buf)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, nil
}

func encodeFloat64(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloat64(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("float64 chunk has %d bytes", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, nil
}

// unicodeDType returns the fixed-width UTF-32 dtype wide enough for every value.
func unicodeDType(values []string) (string, int) {
	width := 1
	for _, v := range values {
		width = max(width, utf8.RuneCountInString(v))
	}
	return "<U" + strconv.Itoa(width), width
}

func encodeUnicode(values []string, width int) []byte {
	buf := make([]byte, 4*width*len(values))
	for i, v := range values {
		off := 4 * width * i
		for j, r := range []rune(v) {
			binary.LittleEndian.PutUint32(buf[off+4*j:], uint32(r))
		}
	}
	return buf
}

func decodeUnicode(buf []byte, dtype string) ([]string, error) {
	width, err := strconv.Atoi(strings.TrimPrefix(dtype, "<U"))
	if err != nil || !strings.HasPrefix(dtype, "<U") || width <= 0 {
		return nil, fmt.Errorf("unsupported string dtype %q", dtype)
	}
	size := 4 * width
	if len(buf)%size != 0 {
		return nil, fmt.Errorf("%s chunk has %d bytes", dtype, len(buf))
	}
	out := make([]string, len(buf)/size)
	for i := range out {
		var sb strings.Builder
		for j := range width {
			r := rune(binary.LittleEndian.Uint32(buf[i*size+4*j:]))
			if r == 0 {
				break
			}
			sb.WriteRune(r)
		}
		out[i] = sb.String()
	}
	return out, nil
}
