package processor

import (
	"bytes"
	"encoding/json"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/procaccess/sim"
	"github.com/sarchlab/procaccess/uart"
)

const (
	procX     = 1
	procY     = 1
	unitWords = 8
	unitBytes = unitWords * 4
)

func testParams() Params {
	p := DefaultParams()
	p.Schema = CurrentSchema().WithUnitWords(unitWords)
	p.MemoryX = 10
	p.MemoryY = 10
	p.MemoryWidth = 4
	p.ROMSize = 2 * unitBytes
	p.RAMSize = 3 * unitBytes

	return p
}

func provision(params Params) (*sim.MemGrid, *Machine) {
	grid := sim.NewMemGrid()

	m, err := Provision(grid, procX, procY, params)
	Expect(err).NotTo(HaveOccurred())

	return grid, m
}

func mustResolve(grid *sim.MemGrid, schema Schema) *Processor {
	p, ok := Resolve(grid, procX, procY, schema)
	Expect(ok).To(BeTrue())

	return p
}

var _ = Describe("Resolve", func() {
	var (
		params Params
		grid   *sim.MemGrid
		m      *Machine
	)

	BeforeEach(func() {
		params = testParams()
		grid, m = provision(params)
	})

	It("should read the descriptor", func() {
		p := mustResolve(grid, params.Schema)
		d := p.Descriptor()

		Expect(d.MemoryX).To(Equal(10))
		Expect(d.MemoryY).To(Equal(10))
		Expect(d.MemoryWidth).To(Equal(4))
		Expect(d.ROMSize).To(Equal(uint32(2 * unitBytes)))
		Expect(d.RAMEnd()).To(Equal(uint32(0x80000000 + 3*unitBytes)))
		Expect(d.UARTFIFOModulo).To(Equal(254))
		Expect(d.Layout.RAM.BaseIndex).To(Equal(2))
		Expect(p.UART(0).Capacity()).To(Equal(253))
	})

	It("should place RAM after a partly used ROM unit", func() {
		params.ROMSize = unitBytes + 4
		grid, _ = provision(params)

		p := mustResolve(grid, params.Schema)

		Expect(p.Descriptor().Layout.RAM.BaseIndex).To(Equal(2))
	})

	It("should fail on an empty cell", func() {
		_, ok := Resolve(grid, 50, 50, params.Schema)
		Expect(ok).To(BeFalse())
	})

	It("should fail on a cell that is not a logic unit", func() {
		_, ok := Resolve(grid, procX, procY+1, params.Schema)
		Expect(ok).To(BeFalse())
	})

	DescribeTable("malformed descriptor variables",
		func(name string, mutate func(v *sim.Var)) {
			mutate(m.Unit.OptionalVar(name))

			_, ok := Resolve(grid, procX, procY, params.Schema)
			Expect(ok).To(BeFalse())
		},
		Entry("zero origin", "MEMORY_X", func(v *sim.Var) { v.SetNum(0) }),
		Entry("object origin", "MEMORY_Y", func(v *sim.Var) { v.SetObj("x") }),
		Entry("negative width", "MEMORY_WIDTH", func(v *sim.Var) { v.SetNum(-1) }),
		Entry("missing width", "MEMORY_WIDTH", func(v *sim.Var) { v.Name = "" }),
		Entry("NaN ROM size", "ROM_SIZE", func(v *sim.Var) { v.SetNum(math.NaN()) }),
		Entry("zero RAM size", "RAM_SIZE", func(v *sim.Var) { v.SetNum(0) }),
		Entry("RAM past the address space", "RAM_SIZE",
			func(v *sim.Var) { v.SetNum(0x80000000) }),
		Entry("negative FIFO modulo", "UART_FIFO_MODULO",
			func(v *sim.Var) { v.SetNum(-254) }),
	)

	It("should fail if a control point is missing", func() {
		x, y := m.Power.Position()
		grid.Remove(x, y)

		_, ok := Resolve(grid, procX, procY, params.Schema)
		Expect(ok).To(BeFalse())
	})

	It("should fail if a component has the wrong type", func() {
		x, y := m.ErrorSink.Position()
		grid.Place(x, y, sim.NewSwitch(false))

		_, ok := Resolve(grid, procX, procY, params.Schema)
		Expect(ok).To(BeFalse())
	})

	It("should fail if a serial bank is too small", func() {
		x, y := m.UARTs[2].Position()
		grid.Place(x, y, sim.NewMemoryBank(256))

		_, ok := Resolve(grid, procX, procY, params.Schema)
		Expect(ok).To(BeFalse())
	})

	It("should ignore links that are no longer valid", func() {
		links := m.Unit.Links()
		for i := range links {
			if links[i].Name == "switch2" {
				links[i].Valid = false
			}
		}

		_, ok := Resolve(grid, procX, procY, params.Schema)
		Expect(ok).To(BeFalse())
	})

	It("should prefer object variables over links", func() {
		other := sim.NewSwitch(false)
		m.Unit.AddVar(sim.NewObjVar("switch1", other))

		p := mustResolve(grid, params.Schema)
		p.Start(false)

		Expect(other.Enabled()).To(BeTrue())
		Expect(m.Power.Enabled()).To(BeFalse())
	})

	It("should not fall back to links when the variable has the wrong type", func() {
		m.Unit.AddVar(sim.NewObjVar("switch1", "not a switch"))

		_, ok := Resolve(grid, procX, procY, params.Schema)
		Expect(ok).To(BeFalse())
	})

	It("should follow the validity of the processor unit", func() {
		p := mustResolve(grid, params.Schema)
		Expect(p.Valid()).To(BeTrue())
		Expect(p.Name()).To(Equal("processor(1, 1)"))

		grid.Remove(procX, procY)
		Expect(p.Valid()).To(BeFalse())
	})

	It("should resolve the legacy generation", func() {
		legacy := LegacySchema().WithUnitWords(unitWords)
		p := mustResolve(grid, legacy)

		Expect(p.Flasher().Encoding().Offset).To(Equal(0))
		Expect(p.UART(1).Peer()).NotTo(BeNil())
		Expect(p.Schema().UARTVariant).To(Equal(uart.VariantDoubleModulus))
	})
})

var _ = Describe("Control", func() {
	var (
		grid *sim.MemGrid
		m    *Machine
		p    *Processor
	)

	BeforeEach(func() {
		params := testParams()
		grid, m = provision(params)
		p = mustResolve(grid, params.Schema)
	})

	It("should start in single-step mode", func() {
		p.Start(true)

		Expect(m.Power.Enabled()).To(BeTrue())
		Expect(m.SingleStep.Enabled()).To(BeTrue())
		Expect(p.Running()).To(BeTrue())
	})

	It("should clear every switch on stop", func() {
		p.Start(true)
		p.Pause()
		p.Stop()

		Expect(m.Power.Enabled()).To(BeFalse())
		Expect(m.Pause.Enabled()).To(BeFalse())
		Expect(m.SingleStep.Enabled()).To(BeFalse())
	})

	It("should refuse to unpause a stopped processor", func() {
		m.Pause.Configure(true)

		err := p.Unpause()

		Expect(err).To(MatchError(sim.ErrInvalidArgument))
		Expect(err).To(MatchError(ContainSubstring("not running")))
		Expect(m.Pause.Enabled()).To(BeTrue())
	})

	It("should unpause a running processor", func() {
		p.Start(false)
		m.Pause.Configure(true)

		Expect(p.Unpause()).To(Succeed())
		Expect(p.Paused()).To(BeFalse())
	})

	It("should pause, step and resume", func() {
		p.PowerOn()

		p.Pause()
		Expect(p.Paused()).To(BeTrue())
		Expect(p.SingleStepping()).To(BeTrue())

		p.Step()
		Expect(p.Paused()).To(BeFalse())
		Expect(p.SingleStepping()).To(BeTrue())

		p.Resume()
		Expect(p.Paused()).To(BeFalse())
		Expect(p.SingleStepping()).To(BeFalse())

		p.PowerOff()
		Expect(p.Running()).To(BeFalse())
	})

	It("should find serial ports by name", func() {
		ch, err := p.UARTByName("uart3")
		Expect(err).NotTo(HaveOccurred())
		Expect(ch).To(BeIdenticalTo(p.UART(3)))

		for _, name := range []string{"uart4", "uart", "serial0", "uart00", "uart/"} {
			_, err := p.UARTByName(name)
			Expect(err).To(MatchError(sim.ErrInvalidArgument), name)
		}
	})
})

var _ = Describe("Control switches", func() {
	var (
		mockCtrl   *gomock.Controller
		power      *MockSwitch
		pause      *MockSwitch
		singleStep *MockSwitch
		p          *Processor
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		power = NewMockSwitch(mockCtrl)
		pause = NewMockSwitch(mockCtrl)
		singleStep = NewMockSwitch(mockCtrl)

		params := testParams()
		grid, m := provision(params)
		m.Unit.AddVar(sim.NewObjVar("switch1", power))
		m.Unit.AddVar(sim.NewObjVar("switch2", pause))
		m.Unit.AddVar(sim.NewObjVar("switch3", singleStep))

		p = mustResolve(grid, params.Schema)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should configure single-step before power on start", func() {
		gomock.InOrder(
			singleStep.EXPECT().Configure(true),
			power.EXPECT().Configure(true),
		)

		p.Start(true)
	})

	It("should remove power first on stop", func() {
		gomock.InOrder(
			power.EXPECT().Configure(false),
			pause.EXPECT().Configure(false),
			singleStep.EXPECT().Configure(false),
		)

		p.Stop()
	})

	It("should check power before unpausing", func() {
		power.EXPECT().Enabled().Return(true)
		pause.EXPECT().Configure(false)

		Expect(p.Unpause()).To(Succeed())
	})
})

var _ = Describe("Status", func() {
	var (
		grid *sim.MemGrid
		m    *Machine
		p    *Processor
	)

	BeforeEach(func() {
		params := testParams()
		grid, m = provision(params)
		p = mustResolve(grid, params.Schema)
	})

	It("should snapshot switches, variables and registers", func() {
		m.Power.Configure(true)
		m.Pause.Configure(true)
		m.ErrorSink.SetMessage("illegal instruction")
		m.Unit.OptionalVar(VarPC).SetNum(0x80000010)
		m.Unit.OptionalVar(VarMStatus).SetNum(0x1800)
		m.Registers.Memory()[1] = 42
		m.Registers.Memory()[31] = -1

		s := p.Status()

		Expect(s.Running).To(BeTrue())
		Expect(s.Paused).To(BeTrue())
		Expect(s.State).To(Equal("idle"))
		Expect(s.ErrorOutput).To(Equal("illegal instruction"))
		Expect(*s.PC).To(Equal(uint32(0x80000010)))
		Expect(*s.PrivilegeMode).To(Equal(uint32(3)))
		Expect(s.MStatus).To(Equal(uint32(0x1800)))
		Expect(s.Registers).To(HaveLen(NumRegisters))
		Expect(s.Registers[1]).To(Equal(uint32(42)))
		Expect(s.Registers[31]).To(Equal(uint32(0)))
	})

	It("should read CSRs by identifier", func() {
		m.CSRs.Vars()[CSRMTVec+1].SetNum(0x100)
		m.CSRs.Vars()[CSRMCause+1].SetNum(11)

		s := p.Status()

		Expect(s.MTVec).To(Equal(uint32(0x100)))
		Expect(s.MCause).To(Equal(uint32(11)))
		Expect(p.CSR(0x7FFF)).To(BeZero())
		Expect(p.CSR(-5)).To(BeZero())
	})

	It("should assemble 64-bit counters", func() {
		m.CSRs.Vars()[CSRMCycleH+1].SetNum(2)
		m.Unit.OptionalVar(VarMCycle).SetNum(5)
		m.CSRs.Vars()[CSRMInstRetH+1].SetNum(1)
		m.Unit.OptionalVar(VarMTimeH).SetNum(3)
		m.Unit.OptionalVar(VarMTime).SetNum(0xFFFFFFFF)

		s := p.Status()

		Expect(s.MCycle).To(Equal(uint64(2)<<32 | 5))
		Expect(s.MInstRet).To(Equal(uint64(1) << 32))
		Expect(s.MTime).To(Equal(uint64(3)<<32 | 0xFFFFFFFF))
	})

	It("should leave missing variables out", func() {
		m.Unit.OptionalVar(VarPC).Name = "renamed"
		m.Unit.OptionalVar(VarState).SetNum(1)

		s := p.Status()

		Expect(s.PC).To(BeNil())
		Expect(s.State).To(BeEmpty())

		data, err := json.Marshal(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"pc":null`))
		Expect(string(data)).To(ContainSubstring(`"privilegeMode":3`))
	})
})

var _ = Describe("Memory", func() {
	It("should round trip RAM through the processor's engine", func() {
		params := testParams()
		grid, _ := provision(params)
		p := mustResolve(grid, params.Schema)

		data := []byte{
			0x00, 0x01, 0x02, 0x03,
			0x10, 0x11, 0x12, 0x13,
			0x20, 0x21, 0x22, 0x23,
			0x30, 0x31, 0x32, 0x33,
		}

		_, err := p.Flasher().Load(params.Schema.RAMStart, data, nil)
		Expect(err).NotTo(HaveOccurred())

		it, err := p.Flasher().Dump(params.Schema.RAMStart, len(data))
		Expect(err).NotTo(HaveOccurred())

		buf := new(bytes.Buffer)
		_, err = it.WriteTo(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.Bytes()).To(Equal(data))
	})

	It("should flash every ROM unit", func() {
		params := testParams()
		grid, m := provision(params)
		p := mustResolve(grid, params.Schema)

		n, err := p.Flasher().Flash(make([]byte, params.ROMSize), nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(params.ROMSize))
		for _, u := range m.ROM {
			Expect(u.CodeUpdates).To(Equal(1))
		}
	})
})

var _ = Describe("Provision", func() {
	It("should reject bad parameters", func() {
		params := testParams()
		params.MemoryX = 0

		_, err := Provision(sim.NewMemGrid(), procX, procY, params)

		Expect(err).To(MatchError(sim.ErrInvalidArgument))
	})

	It("should lay out every storage unit", func() {
		_, m := provision(testParams())

		Expect(m.ROM).To(HaveLen(2))
		Expect(m.RAM).To(HaveLen(3))
		Expect(m.RAM[0].Vars()).To(HaveLen(unitWords + 1))
		Expect(m.RAM[0].Vars()[1].Name).To(Equal("!!"))
	})
})
