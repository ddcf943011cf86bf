package wire

import "strconv"

// Encode appends the wire-form bytes of f to dst and returns the extended
// slice. Deterministic: callers needing the canonical replicated form
// (spec §4.3 step 4) can rely on byte-for-byte stability across calls.
func Encode(dst []byte, f Frame) []byte {
	switch f.Kind {
	case KindSimple:
		dst = append(dst, '+')
		dst = append(dst, f.Str...)
		return append(dst, '\r', '\n')
	case KindError:
		dst = append(dst, '-')
		dst = append(dst, f.Str...)
		return append(dst, '\r', '\n')
	case KindInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, f.Int, 10)
		return append(dst, '\r', '\n')
	case KindBulk:
		if f.Null {
			return append(dst, '$', '-', '1', '\r', '\n')
		}
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(f.Bulk)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, f.Bulk...)
		return append(dst, '\r', '\n')
	case KindArray:
		if f.Null {
			return append(dst, '*', '-', '1', '\r', '\n')
		}
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(f.Items)), 10)
		dst = append(dst, '\r', '\n')
		for _, it := range f.Items {
			dst = Encode(dst, it)
		}
		return dst
	default:
		panic("wire: encode of zero-value Frame")
	}
}

// EncodeLen returns the exact byte length Encode(nil, f) would produce,
// without allocating — used by the primary controller to advance
// master_offset (spec §4.3 step 4) without a throwaway encode.
func EncodeLen(f Frame) int {
	switch f.Kind {
	case KindSimple, KindError:
		return 1 + len(f.Str) + 2
	case KindInteger:
		return 1 + len(strconv.FormatInt(f.Int, 10)) + 2
	case KindBulk:
		if f.Null {
			return 5 // $-1\r\n
		}
		return 1 + len(strconv.Itoa(len(f.Bulk))) + 2 + len(f.Bulk) + 2
	case KindArray:
		if f.Null {
			return 5 // *-1\r\n
		}
		n := 1 + len(strconv.Itoa(len(f.Items))) + 2
		for _, it := range f.Items {
			n += EncodeLen(it)
		}
		return n
	default:
		return 0
	}
}

// EncodeSnapshotBlob produces the PSYNC snapshot framing: "$<len>\r\n<len
// raw bytes>" with NO trailing CRLF (spec §4.1, the one documented
// exception to the general grammar).
func EncodeSnapshotBlob(payload []byte) []byte {
	dst := make([]byte, 0, len(payload)+16)
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, payload...)
	return dst
}
