package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/cpehle/cascade/engine"
)

var _ = Describe("A three-stage combinational pipeline", func() {
	var (
		b         *Builder
		dom       *ClockDomain
		stageAOut *PortWrapper
		stageBOut *PortWrapper
		stageCOut *PortWrapper
	)

	BeforeEach(func() {
		b = NewBuilder()
		dom = b.Domain("clk", 1000)

		aComp, aCx := b.BeginComponent(nil, "StageA", "a")
		aCx.SetDomain(dom)
		stageAOut = aCx.Port("out", Output, Normal, Identity("byte", 1), 0)
		aCx.Update("drive", func(c *Component) {
			WritePort(stageAOut, []byte{1})
		}, nil, []*PortWrapper{stageAOut}, nil)
		b.EndComponent(aComp)

		bComp, bCx := b.BeginComponent(nil, "StageB", "b")
		bCx.SetDomain(dom)
		stageBIn := bCx.Port("in", Input, Normal, Identity("byte", 1), 0)
		stageBOut = bCx.Port("out", Output, Normal, Identity("byte", 1), 1)
		stageBIn.Combinational(stageAOut)
		bCx.Update("double", func(c *Component) {
			v := ReadPort(stageBIn)
			WritePort(stageBOut, []byte{v[0] * 2})
		}, []*PortWrapper{stageBIn}, []*PortWrapper{stageBOut}, nil)
		b.EndComponent(bComp)

		cComp, cCx := b.BeginComponent(nil, "StageC", "c")
		cCx.SetDomain(dom)
		stageCIn := cCx.Port("in", Input, Normal, Identity("byte", 1), 0)
		stageCOut = cCx.Port("out", Output, Normal, Identity("byte", 1), 1)
		stageCIn.Combinational(stageBOut)
		cCx.Update("increment", func(c *Component) {
			v := ReadPort(stageCIn)
			WritePort(stageCOut, []byte{v[0] + 1})
		}, []*PortWrapper{stageCIn}, []*PortWrapper{stageCOut}, nil)
		b.EndComponent(cComp)

		b.Resolve(ResolveParams{})
		Expect(b.Schedule()).To(Succeed())
		b.PlanStorage()
	})

	When("a single tick runs", func() {
		BeforeEach(func() {
			dom.PreTick()
			dom.TickPhase(0)
			dom.UpdatePhase()
			dom.PostTick()
		})

		It("propagates every combinational stage within the same cycle", func() {
			Expect(ReadPort(stageCOut)).To(Equal([]byte{3})) // (1*2)+1
		})
	})
})
