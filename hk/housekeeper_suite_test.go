// Package hk provides mechanism for registering cleanup
// functions which are invoked at specified intervals.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"testing"
	"time"

	"github.com/ais-kv/kvd/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHousekeeper(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Housekeeper", func() {
	It("fires a registered callback at roughly the given interval", func() {
		fired := make(chan struct{}, 1)
		hk.Reg("probe"+hk.NameSuffix, func() time.Duration {
			select {
			case fired <- struct{}{}:
			default:
			}
			return 0
		}, 10*time.Millisecond)
		defer hk.Unreg("probe" + hk.NameSuffix)

		Eventually(fired, 2*time.Second).Should(Receive())
	})

	It("stops firing once unregistered", func() {
		count := 0
		name := "stoppable" + hk.NameSuffix
		hk.Reg(name, func() time.Duration {
			count++
			return 0
		}, 10*time.Millisecond)

		Eventually(func() int { return count }, time.Second).Should(BeNumerically(">=", 1))
		hk.Unreg(name)

		snapshot := count
		Consistently(func() int { return count }, 100*time.Millisecond).Should(BeNumerically("<=", snapshot+1))
	})
})
