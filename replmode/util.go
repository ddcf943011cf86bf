package replmode

import "strconv"

func parseMillis(b []byte) (int64, error)     { return strconv.ParseInt(string(b), 10, 64) }
func formatBytesReceived(n int64) string      { return strconv.FormatInt(n, 10) }
