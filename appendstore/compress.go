package appendstore

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const (
	CodecZstd   = "zstd"
	CodecBrotli = "br"
)

func isValidCodec(codec string) bool {
	switch codec {
	case "", CodecZstd, CodecBrotli:
		return true
	}
	return false
}

// compressor lazily creates zstd encoder and decoder. Both are expensive to
// create and safe for concurrent use through EncodeAll / DecodeAll.
type compressor struct {
	once   sync.Once
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	zstErr error
}

func (c *compressor) initZstd() {
	c.once.Do(func() {
		c.enc, c.zstErr = zstd.NewWriter(nil)
		if c.zstErr != nil {
			return
		}
		c.dec, c.zstErr = zstd.NewReader(nil)
	})
}

func (c *compressor) compress(codec string, d []byte) ([]byte, error) {
	switch codec {
	case "":
		return d, nil
	case CodecZstd:
		c.initZstd()
		if c.zstErr != nil {
			return nil, c.zstErr
		}
		return c.enc.EncodeAll(d, nil), nil
	case CodecBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(d); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown codec '%s'", codec)
}

func (c *compressor) decompress(codec string, d []byte) ([]byte, error) {
	switch codec {
	case "":
		return d, nil
	case CodecZstd:
		c.initZstd()
		if c.zstErr != nil {
			return nil, c.zstErr
		}
		return c.dec.DecodeAll(d, nil)
	case CodecBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(d)))
	}
	return nil, fmt.Errorf("unknown codec '%s'", codec)
}
