package wire

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v3"
)

// CapaEOFLZ4 is the REPLCONF capability a replica advertises during the
// handshake to accept lz4-compressed replicated frames (SPEC_FULL §3's
// optional replication compression). A replica that does not advertise it
// never receives a compressed frame.
const CapaEOFLZ4 = "eof-lz4"

// CompressFrame lz4-compresses the wire-encoded form of f and wraps it in
// an ordinary Bulk frame, distinguishable at the top level from a command
// (always an Array) by its Kind alone. The receiving side decompresses the
// bulk payload and decodes it as a single inner frame via DecompressFrame.
func CompressFrame(f Frame) (Frame, error) {
	raw := Encode(nil, f)
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return Frame{}, err
	}
	if err := w.Close(); err != nil {
		return Frame{}, err
	}
	return Bulk(buf.Bytes()), nil
}

// DecompressFrame reverses CompressFrame: given a Bulk frame's payload, it
// decodes the single inner frame it wraps.
func DecompressFrame(payload []byte) (Frame, error) {
	r := lz4.NewReader(bytes.NewReader(payload))
	raw, err := io.ReadAll(r)
	if err != nil {
		return Frame{}, err
	}
	inner, _, err := Decode(raw)
	return inner, err
}
