package replmode

import (
	"net"
	"strings"
	"time"

	"github.com/ais-kv/kvd/cmn/nlog"
	"github.com/ais-kv/kvd/wire"
)

// applyLoop is spec §4.6 step 7: decode frames from the master indefinitely;
// apply SET/DEL/XADD/INCR/DECR/EXPIRE silently, answer REPLCONF GETACK *,
// ignore everything else.
// bytes_received accumulates the encoded length of each inbound frame
// before it is dispatched.
func (c *Controller) applyLoop(conn net.Conn) error {
	_ = conn.SetReadDeadline(time.Time{})
	var buf []byte
	tmp := make([]byte, 8192)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				f, consumed, derr := wire.Decode(buf)
				if derr == wire.ErrIncomplete {
					break
				}
				if derr != nil {
					return derr
				}
				buf = buf[consumed:]
				c.bytesReceived += int64(consumed)
				if f.Kind == wire.KindBulk && !f.IsNull() {
					// SPEC_FULL §3: a compressed replicated command.
					inner, derr := wire.DecompressFrame(f.Bulk)
					if derr != nil {
						nlog.Warningf("replmode: dropping undecodable compressed frame: %v", derr)
						continue
					}
					f = inner
				}
				c.apply(conn, f)
			}
		}
		if err != nil {
			return err
		}
	}
}

func (c *Controller) apply(conn net.Conn, f wire.Frame) {
	name, args, ok := f.AsCommand()
	if !ok {
		return
	}
	switch strings.ToUpper(name) {
	case "SET":
		c.applySet(args)
	case "DEL":
		c.st.Del(args...)
	case "XADD":
		if len(args) >= 2 {
			_, _ = c.st.XAdd(args[0], string(args[1]), args[2:])
		}
	case "INCR":
		if len(args) == 1 {
			_, _ = c.st.Incr(args[0], 1)
		}
	case "DECR":
		if len(args) == 1 {
			_, _ = c.st.Incr(args[0], -1)
		}
	case "EXPIRE":
		if len(args) == 2 {
			if secs, err := parseMillis(args[1]); err == nil {
				_, _ = c.st.ExpireAt(args[0], time.Now().Add(time.Duration(secs)*time.Second))
			}
		}
	case "REPLCONF":
		if len(args) == 2 && strings.EqualFold(string(args[0]), "GETACK") {
			c.ack(conn)
		}
		// any other REPLCONF (e.g. a stray listening-port) is ignored.
	default:
		// unrecognized commands are applied best-effort and silently
		// skipped (spec §4.6 step 7, §7 "writes on replicas never error
		// back to the master").
	}
}

func (c *Controller) applySet(args [][]byte) {
	if len(args) < 2 {
		return
	}
	key, value := args[0], args[1]
	var ttl time.Duration
	if len(args) >= 4 && strings.EqualFold(string(args[2]), "PX") {
		if ms, err := parseMillis(args[3]); err == nil {
			ttl = time.Duration(ms) * time.Millisecond
		}
	}
	c.st.Set(key, value, ttl)
}

func (c *Controller) ack(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	ack := wire.Command("REPLCONF", []byte("ACK"), []byte(formatBytesReceived(c.bytesReceived)))
	if _, err := conn.Write(wire.Encode(nil, ack)); err != nil {
		nlog.Warningf("replmode: failed to write ACK: %v", err)
	}
}
