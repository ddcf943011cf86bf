package memsys_test

import (
	"testing"

	"github.com/ais-kv/kvd/memsys"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	b := memsys.Default.Alloc()
	if len(b) != memsys.DefaultBufSize {
		t.Fatalf("got len %d, want %d", len(b), memsys.DefaultBufSize)
	}
	b[0] = 0xAB
	memsys.Default.Free(b)

	b2 := memsys.Default.Alloc()
	if len(b2) != memsys.DefaultBufSize {
		t.Fatalf("got len %d, want %d", len(b2), memsys.DefaultBufSize)
	}
}

func TestForeignSizedFreeIsNoop(t *testing.T) {
	foreign := make([]byte, 1)
	memsys.Default.Free(foreign) // must not panic
}
