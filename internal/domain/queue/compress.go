package queue

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

func maybeCompress(payload []byte) ([]byte, bool, error) {
	if len(payload) < CompressionThreshold {
		return payload, false, nil
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, false, fmt.Errorf("compress payload: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, false, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), true, nil
}

func decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return plain, nil
}
