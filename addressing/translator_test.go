package addressing

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/procaccess/sim"
)

const testUnitWords = 16

func testLayout() Layout {
	return Layout{
		OriginX: 10,
		OriginY: 20,
		Width:   3,
		ROM: Segment{
			Start:     0,
			End:       4 * testUnitWords * WordBytes,
			UnitWords: testUnitWords,
			Shape:     Shape{RequiredVar: "v"},
		},
		RAM: Segment{
			Start:     0x80000000,
			End:       0x80000000 + 4*testUnitWords*WordBytes,
			UnitWords: testUnitWords,
			BaseIndex: 4,
			Shape: Shape{
				VarCount:     testUnitWords + 1,
				SentinelSlot: 1,
				SentinelName: "!!",
				WordOffset:   1,
			},
		},
	}
}

func ramUnit() *sim.MemLogicUnit {
	u := sim.NewLogicUnit(sim.NewNumVar("@counter", 0))
	u.AddVar(sim.NewNumVar("!!", 0))
	for i := 1; i < testUnitWords; i++ {
		u.AddVar(sim.NewNumVar("w", 0))
	}

	return u
}

var _ = Describe("Layout", func() {
	It("should map unit boundaries to consecutive grid indices", func() {
		l := testLayout()

		for _, kind := range []SegmentKind{ROM, RAM} {
			seg := l.Segment(kind)
			for k := 0; k < seg.Units(); k++ {
				addr := seg.Start + uint32(k)*seg.UnitBytes()
				loc, ok := l.Compute(addr, kind)

				Expect(ok).To(BeTrue())
				Expect(loc.Index).To(Equal(seg.BaseIndex + k))
				Expect(loc.Slot).To(Equal(0))
			}
		}
	})

	It("should lay out units row-major", func() {
		l := testLayout()

		loc, ok := l.Compute(0x80000000+testUnitWords*WordBytes+8, RAM)

		Expect(ok).To(BeTrue())
		Expect(loc.Index).To(Equal(5))
		Expect(loc.X).To(Equal(12))
		Expect(loc.Y).To(Equal(21))
		Expect(loc.Slot).To(Equal(2))
	})

	It("should reject addresses outside the segment", func() {
		l := testLayout()

		_, ok := l.Compute(l.RAM.End, RAM)
		Expect(ok).To(BeFalse())

		_, ok = l.Compute(l.RAM.End+4096, RAM)
		Expect(ok).To(BeFalse())

		_, ok = l.Compute(l.RAM.Start, ROM)
		Expect(ok).To(BeFalse())
	})

	It("should reject overlapping segments", func() {
		l := testLayout()
		l.RAM.Start = 0
		l.RAM.End = 64

		err := l.Validate()

		Expect(errors.Is(err, sim.ErrInvalidArgument)).To(BeTrue())
	})

	It("should reject a zero width", func() {
		l := testLayout()
		l.Width = 0

		Expect(l.Validate()).To(MatchError(sim.ErrInvalidArgument))
	})
})

var _ = Describe("Translator", func() {
	var (
		mockCtrl *gomock.Controller
		grid     *MockGrid
		t        *Translator
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		grid = NewMockGrid(mockCtrl)
		t = NewTranslator(grid, testLayout())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should look up the unit at the computed coordinate", func() {
		u := ramUnit()
		u.Vars()[3].SetNum(99)
		grid.EXPECT().EntityAt(11, 21).Return(u)

		unit, ok := t.Locate(0x80000000+8, RAM)

		Expect(ok).To(BeTrue())
		Expect(unit.Logic).To(BeIdenticalTo(u))
		Expect(unit.Slot).To(Equal(2))
		Expect(unit.Word(unit.Slot).Num).To(Equal(99.0))
		Expect(unit.Words()).To(Equal(testUnitWords))
	})

	It("should not touch the grid for out of range addresses", func() {
		_, ok := t.Locate(0x7ffffffc, RAM)

		Expect(ok).To(BeFalse())
	})

	It("should report empty cells as not found", func() {
		grid.EXPECT().EntityAt(10, 20).Return(nil)

		_, ok := t.Locate(0, ROM)

		Expect(ok).To(BeFalse())
	})

	It("should report entities that are not logic units as not found", func() {
		grid.EXPECT().EntityAt(10, 20).Return(sim.NewSwitch(false))

		_, ok := t.Locate(0, ROM)

		Expect(ok).To(BeFalse())
	})

	It("should reject units with the wrong number of words", func() {
		u := ramUnit()
		u.AddVar(sim.NewNumVar("extra", 0))
		grid.EXPECT().EntityAt(11, 21).Return(u)

		_, ok := t.Locate(0x80000000, RAM)

		Expect(ok).To(BeFalse())
	})

	It("should reject units with the wrong sentinel", func() {
		u := ramUnit()
		u.Vars()[1].Name = "x"
		grid.EXPECT().EntityAt(11, 21).Return(u)

		_, ok := t.Locate(0x80000000, RAM)

		Expect(ok).To(BeFalse())
	})

	It("should require the program variable in ROM units", func() {
		grid.EXPECT().EntityAt(10, 20).Return(sim.NewLogicUnit())
		grid.EXPECT().EntityAt(11, 20).
			Return(sim.NewLogicUnit(sim.NewObjVar("v", "")))

		_, ok := t.Locate(0, ROM)
		Expect(ok).To(BeFalse())

		_, ok = t.Locate(testUnitWords*WordBytes, ROM)
		Expect(ok).To(BeTrue())
	})
})
