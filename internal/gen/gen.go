// Package gen produces the random hash records fed to the dispatcher.
package gen

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// RecordSize is the fixed size of a hash record in bytes (512 bits).
const RecordSize = 64

// Records generates count random records with a single read from the
// system's secure random source. The returned slices are views into one
// contiguous buffer and must be treated as immutable.
func Records(count int) ([][]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("record count must be >= 0, got %d", count)
	}
	buf := make([]byte, RecordSize*count)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	records := make([][]byte, count)
	for i := range records {
		records[i] = buf[i*RecordSize : (i+1)*RecordSize]
	}
	return records, nil
}

// Hex returns the lowercase hex encoding of a record.
func Hex(record []byte) string {
	return hex.EncodeToString(record)
}

// Base64 returns the standard base64 encoding of a record.
func Base64(record []byte) string {
	return base64.StdEncoding.EncodeToString(record)
}

// Decode parses a record from its hex or base64 string form and
// validates the length.
func Decode(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		if len(b) != RecordSize {
			return nil, fmt.Errorf("record must be %d bytes, got %d", RecordSize, len(b))
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("record is neither hex nor base64: %w", err)
	}
	if len(b) != RecordSize {
		return nil, fmt.Errorf("record must be %d bytes, got %d", RecordSize, len(b))
	}
	return b, nil
}
