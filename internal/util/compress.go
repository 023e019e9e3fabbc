package util

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

// ContentEncodingBrotli is the encoding label embedded in an envelope whose
// body was compressed before chunking.
const ContentEncodingBrotli = "br"

// BrotliEncode compresses data and verifies the result decompresses back to
// the input before returning it. A payload that fails the round trip must
// never reach the chain.
func BrotliEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	decoded, err := BrotliDecode(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(decoded, data) {
		return nil, io.ErrUnexpectedEOF
	}
	return buf.Bytes(), nil
}

// BrotliDecode decompresses a brotli stream.
func BrotliDecode(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
