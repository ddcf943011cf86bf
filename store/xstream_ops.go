package store

// XReadReq is one (key, id) pair of an XREAD request (spec §4.2 "xread").
type XReadReq struct {
	Key []byte
	ID  string // raw token; "$" resolved at call time
}

// XReadResult pairs a key with the entries XREAD found for it.
type XReadResult struct {
	Key     []byte
	Entries []StreamEntry
}

// XAdd derives a concrete id from idSpec (spec §4.2.1), validates it
// (§4.2.2), and appends — creating the stream on first use (spec §3).
func (s *Store) XAdd(key []byte, idSpec string, fields [][]byte) (StreamID, error) {
	b := s.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	it, ok := b.m[string(key)]
	if ok && it.kind != kindStream {
		return ZeroID, ErrWrongType
	}
	var last StreamID
	hasLast := false
	if ok {
		last, hasLast = it.stream.Last()
	}

	id, err := parseIDSpec(idSpec, last, hasLast)
	if err != nil {
		return ZeroID, err
	}
	if id == ZeroID {
		return ZeroID, ErrIDNotGreater
	}
	if hasLast && id.LessEq(last) {
		return ZeroID, ErrIDNotMonotone
	}

	if !ok {
		it = &item{kind: kindStream, stream: &Stream{}}
		b.m[string(key)] = it
		b.filter.Insert(key)
	}
	cp := make([][]byte, len(fields))
	for i, f := range fields {
		cp[i] = append([]byte(nil), f...)
	}
	it.stream.entries = append(it.stream.entries, StreamEntry{ID: id, Fields: cp})
	return id, nil
}

// XRange returns entries with id in [start, end] inclusive (spec §4.2
// "xrange"), resolving partial tokens per parseBoundID.
func (s *Store) XRange(key []byte, startTok, endTok string) ([]StreamEntry, error) {
	start, err := parseBoundID(startTok, true)
	if err != nil {
		return nil, err
	}
	end, err := parseBoundID(endTok, false)
	if err != nil {
		return nil, err
	}

	b := s.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.m[string(key)]
	if !ok {
		return nil, nil
	}
	if it.kind != kindStream {
		return nil, ErrWrongType
	}
	var out []StreamEntry
	for _, e := range it.stream.entries {
		if start.LessEq(e.ID) && e.ID.LessEq(end) {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

// XRead resolves each request's id (the "$" token against that stream's
// current tail, at call time) and returns entries with id strictly
// greater than it; absent streams are omitted from the result (spec §4.2
// "xread").
func (s *Store) XRead(reqs []XReadReq) []XReadResult {
	var out []XReadResult
	for _, req := range reqs {
		b := s.bucketFor(req.Key)
		b.mu.RLock()
		it, ok := b.m[string(req.Key)]
		if !ok || it.kind != kindStream {
			b.mu.RUnlock()
			continue
		}

		after, isLast, err := parseReadID(req.ID)
		if err != nil {
			b.mu.RUnlock()
			continue
		}
		if isLast {
			if last, has := it.stream.Last(); has {
				after = last
			} else {
				after = ZeroID
			}
		}

		var entries []StreamEntry
		for _, e := range it.stream.entries {
			if after.Less(e.ID) {
				entries = append(entries, cloneEntry(e))
			}
		}
		b.mu.RUnlock()

		if len(entries) > 0 {
			out = append(out, XReadResult{Key: req.Key, Entries: entries})
		}
	}
	return out
}

func cloneEntry(e StreamEntry) StreamEntry {
	fields := make([][]byte, len(e.Fields))
	for i, f := range e.Fields {
		fields[i] = append([]byte(nil), f...)
	}
	return StreamEntry{ID: e.ID, Fields: fields}
}
