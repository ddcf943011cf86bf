package replic_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ais-kv/kvd/replic"
	"github.com/ais-kv/kvd/wire"
)

func TestWaitReturnsImmediatelyWithNoWrites(t *testing.T) {
	ctrl := replic.NewController("0123456789012345678901234567890123456789")
	server, client := net.Pipe()
	defer client.Close()
	ctrl.Attach(server, false)

	got := ctrl.Wait(1, 100)
	if got != 1 {
		t.Fatalf("got %d, want 1 (no writes yet => immediate len(R))", got)
	}
}

func TestReplicateFansOutAndAdvancesOffset(t *testing.T) {
	ctrl := replic.NewController("0123456789012345678901234567890123456789")
	server, client := net.Pipe()
	defer client.Close()
	ctrl.Attach(server, false)

	cmd := wire.Command("SET", []byte("k"), []byte("v"))
	applied := false
	resp, err := ctrl.Replicate(cmd, func() (wire.Frame, error) {
		applied = true
		return wire.Simple("OK"), nil
	})
	if err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if !applied {
		t.Fatalf("mutate was not called")
	}
	if !resp.Equal(wire.Simple("OK")) {
		t.Fatalf("resp = %+v, want +OK", resp)
	}
	if ctrl.Offset() != int64(wire.EncodeLen(cmd)) {
		t.Fatalf("offset = %d, want %d", ctrl.Offset(), wire.EncodeLen(cmd))
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("reading replicated command: %v", err)
	}
	got, _, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode replicated frame: %v", err)
	}
	if !got.Equal(cmd) {
		t.Fatalf("replicated frame mismatch: got %+v want %+v", got, cmd)
	}
}

func TestWaitCountsAckAtOrAboveTarget(t *testing.T) {
	ctrl := replic.NewController("0123456789012345678901234567890123456789")
	server, client := net.Pipe()
	defer client.Close()
	ctrl.Attach(server, false)

	cmd := wire.Command("SET", []byte("k"), []byte("v"))
	if _, err := ctrl.Replicate(cmd, func() (wire.Frame, error) { return wire.Simple("OK"), nil }); err != nil {
		t.Fatalf("replicate: %v", err)
	}
	// Drain the replicated command the link just wrote.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("drain replicated command: %v", err)
	}

	done := make(chan int, 1)
	go func() { done <- ctrl.Wait(1, 2000) }()

	// Read the GETACK request the Wait call triggers, then answer it.
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("reading GETACK: %v", err)
	}
	_ = n
	ack := wire.Command("REPLCONF", []byte("ACK"), []byte(strconv.FormatInt(ctrl.Offset(), 10)))
	if _, err := client.Write(wire.Encode(nil, ack)); err != nil {
		t.Fatalf("writing ACK: %v", err)
	}

	select {
	case got := <-done:
		if got != 1 {
			t.Fatalf("got %d acked replicas, want 1", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return in time")
	}
}
