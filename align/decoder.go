package align

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
)

// maxInflatedBytes bounds decompressed scan payloads
const maxInflatedBytes = 256 << 20

// DecodeScanPayload decodes a scan from the formats scanners publish:
//   - raw ScanDoc JSON
//   - gzip-compressed JSON
//   - zlib-compressed JSON
func DecodeScanPayload(data []byte) (*Scan, error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return nil, fmt.Errorf("empty scan payload: %w", ErrInvalidInput)
	}

	var (
		jsonBytes []byte
		err       error
	)
	switch {
	case data[0] == '{':
		jsonBytes = data
	case IsGzip(data):
		jsonBytes, err = inflate(gzip.NewReader(bytes.NewReader(data)))
	default:
		jsonBytes, err = inflate(zlib.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("unknown scan format: not JSON, gzip or zlib-compressed: %w", ErrInvalidInput)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(jsonBytes) == 0 {
		return nil, fmt.Errorf("decoded scan payload is empty: %w", ErrInvalidInput)
	}
	return ParseScanJSON(jsonBytes)
}

// IsGzip checks for the gzip magic bytes
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// inflate drains a decompressing reader
func inflate(reader io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer func() { _ = reader.Close() }()

	out, err := io.ReadAll(io.LimitReader(reader, maxInflatedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing scan: %w", err)
	}
	if len(out) > maxInflatedBytes {
		return nil, fmt.Errorf("decompressed scan exceeds %d bytes: %w", maxInflatedBytes, ErrInvalidInput)
	}
	return out, nil
}
