// Package cos provides common low-level types and utilities shared across
// the server, client, and replication packages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const (
	// Alphabet for generating short IDs, similar to shortid.DEFAULT_ABC but
	// without easily-confused characters.
	shortIDABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

	hexDigits = "0123456789abcdef"
)

var sid *shortid.Shortid

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, shortIDABC, seed)
}

// GenShortID returns a short (~9 char), locally-unique id suitable for
// per-session/per-connection labels in log lines.
func GenShortID() string {
	if sid == nil {
		InitShortID(uint64(CryptoRandU64()))
	}
	return sid.MustGenerate()
}

// GenReplID returns a 40-hex-character replication identifier, matching the
// wire format's `FULLRESYNC <replid> <offset>` convention. Generated fresh
// at primary startup; never persisted.
func GenReplID() string {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// value derived from an xxhash of a stack address rather than
		// panicking the server.
		digest := xxhash.ChecksumString64(fmt.Sprintf("%p", &b))
		for i := range b {
			b[i] = byte(digest >> (8 * (uint(i) % 8)))
		}
	}
	out := make([]byte, 40)
	for i, c := range b {
		out[2*i] = hexDigits[c>>4]
		out[2*i+1] = hexDigits[c&0xf]
	}
	return string(out)
}

// CryptoRandU64 returns a cryptographically random uint64, used to seed
// non-cryptographic identifier generators (short ids, filter seeds).
func CryptoRandU64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return xxhash.ChecksumString64(fmt.Sprintf("%p", &b))
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// HashKey returns a 64-bit digest of a key, used by the store to pick the
// lock stripe (bucket) that owns the key.
func HashKey(key []byte) uint64 { return xxhash.Checksum64(key) }
