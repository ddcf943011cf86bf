package store_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ais-kv/kvd/store"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Store scalar operations", func() {
	var s *store.Store

	BeforeEach(func() { s = store.New() })

	It("round-trips SET/GET", func() {
		s.Set([]byte("k"), []byte("v"), 0)
		v, ok := s.Get([]byte("k"))
		Expect(ok).To(BeTrue())
		Expect(string(v)).To(Equal("v"))
	})

	It("expires a key after its PX deadline (P3)", func() {
		s.Set([]byte("k"), []byte("v"), 20*time.Millisecond)
		_, ok := s.Get([]byte("k"))
		Expect(ok).To(BeTrue())
		time.Sleep(40 * time.Millisecond)
		_, ok = s.Get([]byte("k"))
		Expect(ok).To(BeFalse())
	})

	It("reports TYPE none for an absent or expired key", func() {
		Expect(s.Type([]byte("nope"))).To(Equal("none"))
		s.Set([]byte("k"), []byte("v"), time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		Expect(s.Type([]byte("k"))).To(Equal("none"))
	})

	It("DEL removes an item and reports the count removed", func() {
		s.Set([]byte("a"), []byte("1"), 0)
		s.Set([]byte("b"), []byte("2"), 0)
		Expect(s.Del([]byte("a"), []byte("missing"))).To(Equal(1))
		_, ok := s.Get([]byte("a"))
		Expect(ok).To(BeFalse())
	})

	It("KEYS only supports the '*' glob", func() {
		s.Set([]byte("a"), []byte("1"), 0)
		keys, err := s.Keys("*")
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(HaveLen(1))
		_, err = s.Keys("a*")
		Expect(err).To(Equal(store.ErrUnsupportedGlob))
	})

	It("INCR creates and increments an integer key (P8)", func() {
		v, err := s.Incr([]byte("n"), 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(int64(1)))
		v, err = s.Incr([]byte("n"), 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(int64(6)))
	})

	It("INCR on a non-integer value fails without mutating it (P8)", func() {
		s.Set([]byte("n"), []byte("notanumber"), 0)
		_, err := s.Incr([]byte("n"), 1)
		Expect(err).To(Equal(store.ErrNotInteger))
		v, _ := s.Get([]byte("n"))
		Expect(string(v)).To(Equal("notanumber"))
	})
})

var _ = Describe("Store stream operations", func() {
	var s *store.Store

	BeforeEach(func() { s = store.New() })

	It("rejects the reserved id 0-0 without mutating the stream (P2)", func() {
		_, err := s.XAdd([]byte("s"), "0-0", nil)
		Expect(err).To(Equal(store.ErrIDNotGreater))
		entries, _ := s.XRange([]byte("s"), "-", "+")
		Expect(entries).To(BeEmpty())
	})

	It("enforces strictly increasing ids (P1)", func() {
		id1, err := s.XAdd([]byte("s"), "0-1", [][]byte{[]byte("a"), []byte("1")})
		Expect(err).NotTo(HaveOccurred())
		Expect(id1.String()).To(Equal("0-1"))

		_, err = s.XAdd([]byte("s"), "0-1", nil)
		Expect(err).To(Equal(store.ErrIDNotMonotone))

		id2, err := s.XAdd([]byte("s"), "0-2", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(id1.Less(id2)).To(BeTrue())
	})

	It("derives a '<ms>-*' seq from the prior entry at the same ms", func() {
		id1, err := s.XAdd([]byte("s"), "5-*", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(id1.String()).To(Equal("5-0"))
		id2, err := s.XAdd([]byte("s"), "5-*", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(id2.String()).To(Equal("5-1"))
	})

	It("resolves XRANGE partial bounds per the fixed rules", func() {
		_, _ = s.XAdd([]byte("s"), "5-1", nil)
		_, _ = s.XAdd([]byte("s"), "5-2", nil)
		_, _ = s.XAdd([]byte("s"), "6-0", nil)

		entries, err := s.XRange([]byte("s"), "5", "5")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))

		entries, err = s.XRange([]byte("s"), "-", "+")
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(3))
	})

	It("XREAD returns only entries strictly greater than the given id", func() {
		_, _ = s.XAdd([]byte("s"), "1-0", nil)
		_, _ = s.XAdd([]byte("s"), "2-0", nil)

		res := s.XRead([]store.XReadReq{{Key: []byte("s"), ID: "1-0"}})
		Expect(res).To(HaveLen(1))
		Expect(res[0].Entries).To(HaveLen(1))
		Expect(res[0].Entries[0].ID.String()).To(Equal("2-0"))
	})

	It("XREAD with '$' resolves to the stream's last id at call time", func() {
		_, _ = s.XAdd([]byte("s"), "1-0", nil)
		res := s.XRead([]store.XReadReq{{Key: []byte("s"), ID: "$"}})
		Expect(res).To(BeEmpty())

		_, _ = s.XAdd([]byte("s"), "2-0", nil)
		// A fresh '$' read against the new tail still sees nothing new.
		res = s.XRead([]store.XReadReq{{Key: []byte("s"), ID: "$"}})
		Expect(res).To(BeEmpty())
	})

	It("XREAD omits absent streams", func() {
		res := s.XRead([]store.XReadReq{{Key: []byte("nope"), ID: "0-0"}})
		Expect(res).To(BeEmpty())
	})
})
