package store

import "strconv"

func parseInt(b []byte) (int64, error)  { return strconv.ParseInt(string(b), 10, 64) }
func formatInt(v int64) string          { return strconv.FormatInt(v, 10) }
