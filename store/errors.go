package store

import "github.com/pkg/errors"

// Domain errors (spec §7 "Domain" class): returned verbatim as the wire
// error string by the session dispatch layer.
var (
	errBadID         = errors.New("ERR Invalid stream ID specified as stream command argument")
	ErrIDNotGreater  = errors.New("ERR The ID specified in XADD must be greater than 0-0")
	ErrIDNotMonotone = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	ErrWrongType     = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotInteger    = errors.New("ERR value is not an integer or out of range")
	ErrUnsupportedGlob = errors.New("ERR KEYS only supports the '*' pattern")
)
