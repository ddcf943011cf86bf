package prob_test

import (
	"testing"

	"github.com/ais-kv/kvd/cmn/prob"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestFilter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Filter", func() {
	var f *prob.Filter

	BeforeEach(func() {
		f = prob.New(1024)
	})

	It("never false-negatives an inserted key", func() {
		f.Insert([]byte("foo"))
		Expect(f.MaybeContains([]byte("foo"))).To(BeTrue())
	})

	It("reports absent keys as absent", func() {
		Expect(f.MaybeContains([]byte("never-inserted"))).To(BeFalse())
	})

	It("forgets a key once deleted", func() {
		f.Insert([]byte("bar"))
		Expect(f.Delete([]byte("bar"))).To(BeTrue())
		Expect(f.MaybeContains([]byte("bar"))).To(BeFalse())
	})
})
