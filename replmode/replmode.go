// Package replmode implements the replica side of replication: the
// PSYNC handshake against a configured primary and the subsequent apply
// loop (spec §4.6; SPEC_FULL §4.6).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package replmode

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ais-kv/kvd/cmn"
	"github.com/ais-kv/kvd/cmn/nlog"
	"github.com/ais-kv/kvd/rdb"
	"github.com/ais-kv/kvd/store"
	"github.com/ais-kv/kvd/wire"
)

// Controller runs the replica-mode handshake once and then owns the apply
// loop for the lifetime of the connection to the primary.
type Controller struct {
	st            *store.Store
	localPort     string
	bytesReceived int64
}

func New(st *store.Store, localPort string) *Controller {
	return &Controller{st: st, localPort: localPort}
}

// Run performs the full handshake (spec §4.6 steps 1-6) and then blocks in
// the apply loop (step 7) until the connection fails or ctx-equivalent
// caller-side teardown closes it. It returns only the error that ended the
// dial, the handshake or the apply loop; the primary's replid and offset
// are logged, not returned.
func (c *Controller) Run(masterHost, masterPort string) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(masterHost, masterPort), cmn.GCO.Get().Timeout.ReplicaHandshake)
	if err != nil {
		return errors.Wrap(err, "replmode: dial master")
	}
	defer conn.Close()
	return c.RunConn(conn)
}

// RunConn runs the handshake and apply loop over an already-established
// connection; Run is a thin net.Dial wrapper around it, separated out so
// tests can drive the handshake over an in-memory net.Pipe.
func (c *Controller) RunConn(conn net.Conn) error {
	replID, _, err := c.handshake(conn)
	if err != nil {
		return errors.Wrap(err, "replmode: handshake")
	}
	nlog.Infof("replmode: handshake complete, replid=%s", replID)

	return c.applyLoop(conn)
}

func (c *Controller) handshake(conn net.Conn) (replID string, offset int64, err error) {
	deadline := cmn.GCO.Get().Timeout.ReplicaHandshake

	// Step 2: PING.
	if err := c.sendCommand(conn, deadline, "PING"); err != nil {
		return "", 0, err
	}
	f, err := c.readFrame(conn, deadline)
	if err != nil {
		return "", 0, err
	}
	if f.Kind != wire.KindSimple || !strings.EqualFold(f.Str, "PONG") {
		return "", 0, errors.New("replmode: expected +PONG")
	}
	nlog.Infof("replmode: sent PING, received PONG")

	// Step 3: REPLCONF listening-port.
	if err := c.sendCommand(conn, deadline, "REPLCONF", "listening-port", c.localPort); err != nil {
		return "", 0, err
	}
	if err := c.expectOK(conn, deadline); err != nil {
		return "", 0, err
	}

	// Step 4: REPLCONF capa.
	if err := c.sendCommand(conn, deadline, "REPLCONF", "capa", "psync2"); err != nil {
		return "", 0, err
	}
	if err := c.expectOK(conn, deadline); err != nil {
		return "", 0, err
	}
	if cmn.GCO.Get().Repl.Compress {
		// SPEC_FULL §3: advertise the optional compressed-stream capability;
		// a primary that doesn't support it simply never sends a compressed
		// frame, so failing to negotiate this is not itself an error.
		if err := c.sendCommand(conn, deadline, "REPLCONF", "capa", wire.CapaEOFLZ4); err == nil {
			_ = c.expectOK(conn, deadline)
		}
	}
	nlog.Infof("replmode: capabilities negotiated")

	// Step 5: PSYNC ? -1.
	if err := c.sendCommand(conn, deadline, "PSYNC", "?", "-1"); err != nil {
		return "", 0, err
	}
	line, err := c.readFrame(conn, deadline)
	if err != nil {
		return "", 0, err
	}
	if line.Kind != wire.KindSimple || !strings.HasPrefix(line.Str, "FULLRESYNC ") {
		return "", 0, errors.New("replmode: expected FULLRESYNC")
	}
	parts := strings.Fields(line.Str)
	if len(parts) != 3 {
		return "", 0, errors.New("replmode: malformed FULLRESYNC line")
	}
	replID = parts[1]
	offset, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, errors.Wrap(err, "replmode: bad FULLRESYNC offset")
	}
	nlog.Infof("replmode: received FULLRESYNC replid=%s offset=%d", replID, offset)

	snapshot, err := c.readSnapshotBlob(conn, deadline)
	if err != nil {
		return "", 0, errors.Wrap(err, "replmode: reading snapshot blob")
	}

	kvs, errs, derr := rdb.Decode(snapshot)
	if derr != nil {
		return "", 0, errors.Wrap(derr, "replmode: decoding snapshot")
	}
	if errs != nil && errs.Cnt() > 0 {
		nlog.Warningf("replmode: snapshot decode warnings: %s", errs.Error())
	}
	for _, kv := range kvs {
		ttl := time.Duration(0)
		if kv.Entry.ExpireAt != 0 {
			ttl = time.Until(time.UnixMilli(kv.Entry.ExpireAt))
			if ttl <= 0 {
				continue
			}
		}
		c.st.Set(kv.Key, kv.Entry.Value, ttl)
	}
	nlog.Infof("replmode: applied %d keys from snapshot", len(kvs))

	return replID, offset, nil
}

func (c *Controller) sendCommand(conn net.Conn, timeout time.Duration, name string, args ...string) error {
	b := make([][]byte, len(args))
	for i, a := range args {
		b[i] = []byte(a)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := conn.Write(wire.Encode(nil, wire.Command(name, b...)))
	return err
}

func (c *Controller) expectOK(conn net.Conn, timeout time.Duration) error {
	f, err := c.readFrame(conn, timeout)
	if err != nil {
		return err
	}
	if f.Kind != wire.KindSimple || !strings.EqualFold(f.Str, "OK") {
		return errors.New("replmode: expected +OK")
	}
	return nil
}

// readFrame reads exactly one frame with a per-step deadline, buffering
// only as much as it needs across successive reads.
func (c *Controller) readFrame(conn net.Conn, timeout time.Duration) (wire.Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var buf []byte
	tmp := make([]byte, 512)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			f, _, derr := wire.Decode(buf)
			if derr == nil {
				return f, nil
			}
			if derr != wire.ErrIncomplete {
				return wire.Frame{}, derr
			}
		}
		if err != nil {
			return wire.Frame{}, err
		}
	}
}

func (c *Controller) readSnapshotBlob(conn net.Conn, timeout time.Duration) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			payload, _, derr := wire.DecodeSnapshotBlob(buf)
			if derr == nil {
				return payload, nil
			}
			if derr != wire.ErrIncomplete {
				return nil, derr
			}
		}
		if err != nil {
			return nil, err
		}
	}
}
