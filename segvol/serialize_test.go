package segvol

import (
	"bytes"
	"testing"
)

func TestSerializationRoundTrip(t *testing.T) {
	data := []byte("some label volume bytes \x00\x01\x02\x03 with repeats repeats repeats")

	for _, compression := range []Compression{Uncompressed, Snappy, Gzip} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			s, err := SerializeData(data, compression, checksum)
			if err != nil {
				t.Fatalf("SerializeData(%s, %s): %v\n", compression, checksum, err)
			}
			if len(s) == 0 {
				t.Fatalf("SerializeData(%s, %s) returned empty output\n", compression, checksum)
			}
			out, gotCompression, err := DeserializeData(s, true)
			if err != nil {
				t.Fatalf("DeserializeData(%s, %s): %v\n", compression, checksum, err)
			}
			if gotCompression != compression {
				t.Fatalf("expected compression %s, got %s\n", compression, gotCompression)
			}
			if !bytes.Equal(out, data) {
				t.Fatalf("round trip with %s/%s altered data\n", compression, checksum)
			}
		}
	}
}

func TestSerializationChecksum(t *testing.T) {
	data := []byte("bytes that should be protected against corruption")
	s, err := SerializeData(data, Snappy, CRC32)
	if err != nil {
		t.Fatalf("SerializeData: %v\n", err)
	}

	// Flip a bit within the compressed payload.
	s[len(s)-3] ^= 0x04
	if _, _, err := DeserializeData(s, true); err == nil {
		t.Fatalf("expected checksum failure on corrupted data\n")
	}
}

func TestSerializationFormat(t *testing.T) {
	for _, compression := range []Compression{Uncompressed, Snappy, Gzip} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			format := EncodeSerializationFormat(compression, checksum)
			gotCompression, gotChecksum := DecodeSerializationFormat(format)
			if gotCompression != compression || gotChecksum != checksum {
				t.Fatalf("format byte did not round trip %s/%s: got %s/%s\n",
					compression, checksum, gotCompression, gotChecksum)
			}
		}
	}
}
