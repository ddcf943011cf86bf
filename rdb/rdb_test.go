package rdb_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ais-kv/kvd/rdb"
)

func lenPrefixed(b []byte) []byte {
	if len(b) > 0x3F {
		panic("test helper only supports 6-bit lengths")
	}
	return append([]byte{byte(len(b))}, b...)
}

func TestDecodeEmptySnapshot(t *testing.T) {
	kvs, errs, err := rdb.Decode(rdb.EmptySnapshot())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(kvs) != 0 {
		t.Fatalf("expected no entries, got %d", len(kvs))
	}
	if errs.Cnt() != 0 {
		t.Fatalf("expected no per-record errors, got %d", errs.Cnt())
	}
}

func TestDecodeSingleKeyNoExpiry(t *testing.T) {
	var buf []byte
	buf = append(buf, "REDIS"...)
	buf = append(buf, 0xFE, 0x00) // SELECTDB 0
	buf = append(buf, 0x00)       // value type: string
	buf = append(buf, lenPrefixed([]byte("foo"))...)
	buf = append(buf, lenPrefixed([]byte("bar"))...)
	buf = append(buf, 0xFF)                // EOF
	buf = append(buf, make([]byte, 8)...) // CRC-64 (unvalidated)

	kvs, _, err := rdb.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(kvs) != 1 || string(kvs[0].Key) != "foo" || string(kvs[0].Entry.Value) != "bar" {
		t.Fatalf("unexpected decode result: %+v", kvs)
	}
}

func TestDecodeDropsExpiredEntry(t *testing.T) {
	past := uint64(time.Now().Add(-time.Hour).UnixMilli())
	var buf []byte
	buf = append(buf, "REDIS"...)
	buf = append(buf, 0xFE, 0x00)
	buf = append(buf, 0xFC) // expire-ms prefix
	expireBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(expireBytes, past)
	buf = append(buf, expireBytes...)
	buf = append(buf, 0x00)
	buf = append(buf, lenPrefixed([]byte("k"))...)
	buf = append(buf, lenPrefixed([]byte("v"))...)
	buf = append(buf, 0xFF)
	buf = append(buf, make([]byte, 8)...)

	kvs, _, err := rdb.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(kvs) != 0 {
		t.Fatalf("expected expired entry to be dropped, got %+v", kvs)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	_, _, err := rdb.Decode([]byte("NOTREDIS"))
	if err != rdb.ErrBadMagic {
		t.Fatalf("got %v, want ErrBadMagic", err)
	}
}

func TestDecodeRejectsUnsupportedTypeRecord(t *testing.T) {
	var buf []byte
	buf = append(buf, "REDIS"...)
	buf = append(buf, 0xFE, 0x00)
	buf = append(buf, 0x04) // unsupported value type (e.g. RDB set)
	buf = append(buf, lenPrefixed([]byte("k"))...)
	buf = append(buf, lenPrefixed([]byte("v"))...)
	buf = append(buf, 0xFF)
	buf = append(buf, make([]byte, 8)...)

	_, errs, err := rdb.Decode(buf)
	if err == nil {
		t.Fatalf("expected decode to reject a record of an unsupported type")
	}
	if errs.Cnt() == 0 {
		t.Fatalf("expected the unsupported-type record to be recorded in errs before aborting")
	}
}
