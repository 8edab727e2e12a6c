package gen

import (
	"bytes"
	"testing"
)

func TestRecords(t *testing.T) {
	records, err := Records(100)
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(records) != 100 {
		t.Fatalf("Records() returned %d records, want 100", len(records))
	}
	for i, r := range records {
		if len(r) != RecordSize {
			t.Fatalf("record %d has %d bytes, want %d", i, len(r), RecordSize)
		}
	}
	// 64 random bytes colliding would mean the random source is broken
	if bytes.Equal(records[0], records[1]) {
		t.Error("adjacent records are identical")
	}
}

func TestRecordsZero(t *testing.T) {
	records, err := Records(0)
	if err != nil {
		t.Fatalf("Records(0) error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Records(0) returned %d records", len(records))
	}
}

func TestRecordsNegative(t *testing.T) {
	if _, err := Records(-1); err == nil {
		t.Error("Records(-1) did not return an error")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records, err := Records(1)
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	r := records[0]

	if len(Hex(r)) != RecordSize*2 {
		t.Errorf("Hex() length = %d, want %d", len(Hex(r)), RecordSize*2)
	}

	fromHex, err := Decode(Hex(r))
	if err != nil {
		t.Fatalf("Decode(hex) error: %v", err)
	}
	if !bytes.Equal(fromHex, r) {
		t.Error("hex round trip changed the record")
	}

	fromB64, err := Decode(Base64(r))
	if err != nil {
		t.Fatalf("Decode(base64) error: %v", err)
	}
	if !bytes.Equal(fromB64, r) {
		t.Error("base64 round trip changed the record")
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	cases := []string{"", "zzzz", "deadbeef", Base64(make([]byte, 32))}
	for _, c := range cases {
		if _, err := Decode(c); err == nil {
			t.Errorf("Decode(%q) did not return an error", c)
		}
	}
}
