// Package rdb reads the compact binary snapshot format used to bootstrap a
// replica on PSYNC (spec §4.7, §4.8; SPEC_FULL §4.7/§4.8). It is read-only:
// this process never writes a persistent snapshot file, only the fixed
// empty-snapshot bootstrap blob EmptySnapshot returns.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package rdb

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/ais-kv/kvd/cmn/cos"
	"github.com/ais-kv/kvd/store"
)

const magic = "REDIS"

const (
	opSelectDB = 0xFE
	opResizeDB = 0xFB
	opEOF      = 0xFF
	opExpireMS = 0xFC
	opExpireS  = 0xFD
)

const typeString = 0x00

var (
	// ErrBadMagic means buf did not start with the expected "REDIS" magic.
	ErrBadMagic = errors.New("rdb: bad magic")
	// ErrTruncated means buf ended before a complete record was read.
	ErrTruncated = errors.New("rdb: truncated input")
	// errUnsupportedType means a value-type byte other than 0x00 was seen;
	// Decode records it in errs and stops, rejecting the whole snapshot.
	errUnsupportedType = errors.New("rdb: unsupported value type")
	errUnsupportedLen  = errors.New("rdb: unsupported length encoding (tag 11)")
)

// KV is one decoded key/entry pair (spec §4.7 "output: an iterator of
// (key, Entry) pairs").
type KV struct {
	Key   []byte
	Entry store.Entry
}

// reader walks a snapshot buffer byte-by-byte; it never copies the whole
// input, only the key/value slices it returns.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// length decodes the RDB length encoding (spec §4.7): the top two bits of
// the first byte select 00 (6-bit length), 01 (14-bit length), 10 (4-byte
// big-endian length), or 11 (rejected — compressed/integer sub-encodings
// are not required).
func (r *reader) length() (uint64, error) {
	first, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch first >> 6 {
	case 0b00:
		return uint64(first & 0x3F), nil
	case 0b01:
		next, err := r.byte()
		if err != nil {
			return 0, err
		}
		return (uint64(first&0x3F) << 8) | uint64(next), nil
	case 0b10:
		b, err := r.take(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(b)), nil
	default: // 0b11
		return 0, errUnsupportedLen
	}
}

func (r *reader) lengthPrefixedBytes() ([]byte, error) {
	n, err := r.length()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// Decode parses a full snapshot buffer and returns every (key, Entry) pair
// whose expiry, if any, has not already passed (spec §4.7: "Entries with a
// past expiry are dropped at load"). Any malformed or unsupported record
// aborts decoding: Decode returns the pairs read so far, errs, and the
// error. A record of an unsupported value type is also added to errs
// before the abort; no record is skipped.
func Decode(buf []byte) ([]KV, *cos.Errs, error) {
	if len(buf) < len(magic) || string(buf[:len(magic)]) != magic {
		return nil, nil, ErrBadMagic
	}
	r := &reader{buf: buf, pos: len(magic)}

	// Skip the variable-length metadata section that conventionally follows
	// the magic (version digits, AUX fields), up to the first database
	// selector / resizedb / EOF marker (spec §4.7).
	for r.pos < len(r.buf) {
		b := r.buf[r.pos]
		if b == opSelectDB || b == opResizeDB || b == opEOF {
			break
		}
		r.pos++
	}

	var errs cos.Errs
	var out []KV
	now := time.Now().UnixMilli()
	var pendingExpire int64

	for {
		b, err := r.byte()
		if err != nil {
			return out, &errs, err
		}
		switch b {
		case opSelectDB:
			if _, err := r.length(); err != nil {
				return out, &errs, err
			}
			continue
		case opResizeDB:
			if _, err := r.length(); err != nil {
				return out, &errs, err
			}
			if _, err := r.length(); err != nil {
				return out, &errs, err
			}
			continue
		case opEOF:
			// Trailing 8-byte CRC-64 checksum; present but never validated
			// (spec §4.7). Tolerate a short/absent footer.
			_, _ = r.take(8)
			return out, &errs, nil
		case opExpireMS:
			raw, err := r.take(8)
			if err != nil {
				return out, &errs, err
			}
			pendingExpire = int64(binary.LittleEndian.Uint64(raw))
			continue
		case opExpireS:
			raw, err := r.take(4)
			if err != nil {
				return out, &errs, err
			}
			pendingExpire = int64(binary.LittleEndian.Uint32(raw)) * 1000
			continue
		default:
			// value-type byte: only 0x00 (scalar string) is required to be
			// supported (spec §4.7); any other type cannot be safely skipped
			// without decoding its own length-encoded aggregate structure, so
			// it aborts the snapshot rather than desyncing the reader.
			kv, err := r.readRecord(b, pendingExpire)
			pendingExpire = 0
			if err != nil {
				if errors.Is(err, errUnsupportedType) {
					errs.Add(err)
				}
				return out, &errs, err
			}
			if kv.Entry.ExpireAt != 0 && kv.Entry.ExpireAt <= now {
				continue
			}
			out = append(out, kv)
		}
	}
}

func (r *reader) readRecord(valueType byte, expireAt int64) (KV, error) {
	if valueType != typeString {
		return KV{}, errors.Wrapf(errUnsupportedType, "type=0x%02x", valueType)
	}
	key, err := r.lengthPrefixedBytes()
	if err != nil {
		return KV{}, err
	}
	val, err := r.lengthPrefixedBytes()
	if err != nil {
		return KV{}, err
	}
	return KV{Key: append([]byte(nil), key...), Entry: store.Entry{
		Value:    append([]byte(nil), val...),
		ExpireAt: expireAt,
	}}, nil
}

// EmptySnapshot returns a fixed, legal snapshot with no keys: magic,
// immediate EOF marker, and a zeroed (unvalidated) CRC-64 footer (spec
// §4.8). Sent by a primary with no snapshot file configured.
func EmptySnapshot() []byte {
	buf := make([]byte, 0, len(magic)+1+8)
	buf = append(buf, magic...)
	buf = append(buf, opEOF)
	buf = append(buf, make([]byte, 8)...)
	return buf
}
