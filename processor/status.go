package processor

import (
	"github.com/sarchlab/procaccess/sim"
)

// Machine-mode CSR identifiers read into a Status.
const (
	CSRMScratch  = 0x340
	CSRMTVec     = 0x305
	CSRMEPC      = 0x341
	CSRMCause    = 0x342
	CSRMTVal     = 0x343
	CSRMCycleH   = 0xB80
	CSRMInstRetH = 0xB82
)

// NumRegisters is the number of general purpose registers in a Status.
const NumRegisters = 32

// Variables of the processor unit read into a Status.
const (
	VarState         = "state"
	VarPC            = "pc"
	VarInstruction   = "instruction"
	VarPrivilegeMode = "privilege_mode"
	VarMStatus       = "csr_mstatus"
	VarMIP           = "csr_mip"
	VarMIE           = "csr_mie"
	VarMCycle        = "csr_mcycle"
	VarMInstRet      = "csr_minstret"
	VarMTime         = "csr_mtime"
	VarMTimeH        = "csr_mtimeh"
)

// Status is a snapshot of the processor. Pointer fields are nil when the
// processor does not expose the variable.
type Status struct {
	Running       bool     `json:"running"`
	Paused        bool     `json:"paused"`
	State         string   `json:"state"`
	ErrorOutput   string   `json:"errorOutput"`
	PC            *uint32  `json:"pc"`
	Instruction   *uint32  `json:"instruction"`
	PrivilegeMode *uint32  `json:"privilegeMode"`
	Registers     []uint32 `json:"registers"`
	MScratch      uint32   `json:"mscratch"`
	MTVec         uint32   `json:"mtvec"`
	MEPC          uint32   `json:"mepc"`
	MCause        uint32   `json:"mcause"`
	MTVal         uint32   `json:"mtval"`
	MStatus       uint32   `json:"mstatus"`
	MIP           uint32   `json:"mip"`
	MIE           uint32   `json:"mie"`
	MCycle        uint64   `json:"mcycle"`
	MInstRet      uint64   `json:"minstret"`
	MTime         uint64   `json:"mtime"`
}

// Status takes a snapshot. The two halves of each 64-bit counter are read
// one after the other within one call, so the snapshot is consistent only
// because the simulation does not advance during a task.
func (p *Processor) Status() Status {
	s := Status{
		Running:       p.power.Enabled(),
		Paused:        p.pause.Enabled(),
		ErrorOutput:   p.errorSink.Message(),
		PC:            p.optionalUint(VarPC),
		Instruction:   p.optionalUint(VarInstruction),
		PrivilegeMode: p.optionalUint(VarPrivilegeMode),
		Registers:     p.Registers(),
		MScratch:      p.CSR(CSRMScratch),
		MTVec:         p.CSR(CSRMTVec),
		MEPC:          p.CSR(CSRMEPC),
		MCause:        p.CSR(CSRMCause),
		MTVal:         p.CSR(CSRMTVal),
		MStatus:       p.uintVar(VarMStatus),
		MIP:           p.uintVar(VarMIP),
		MIE:           p.uintVar(VarMIE),
	}

	if v := p.unit.OptionalVar(VarState); v != nil && v.IsObj {
		s.State, _ = v.Obj.(string)
	}

	s.MCycle = join(p.CSR(CSRMCycleH), p.uintVar(VarMCycle))
	s.MInstRet = join(p.CSR(CSRMInstRetH), p.uintVar(VarMInstRet))
	s.MTime = join(p.uintVar(VarMTimeH), p.uintVar(VarMTime))

	return s
}

// Registers returns the general purpose registers.
func (p *Processor) Registers() []uint32 {
	memory := p.registers.Memory()
	n := min(len(memory), NumRegisters)

	regs := make([]uint32, n)
	for i := range regs {
		regs[i] = sim.ToUint32(memory[i])
	}

	return regs
}

// CSR returns the control and status register with the given identifier,
// or 0 if the CSR unit has no slot for it.
func (p *Processor) CSR(id int) uint32 {
	vars := p.csrs.Vars()

	slot := id + 1
	if slot < 0 || slot >= len(vars) || vars[slot].IsObj {
		return 0
	}

	return vars[slot].Uint32()
}

func (p *Processor) uintVar(name string) uint32 {
	v := p.unit.OptionalVar(name)
	if v == nil || v.IsObj {
		return 0
	}

	return v.Uint32()
}

func (p *Processor) optionalUint(name string) *uint32 {
	v := p.unit.OptionalVar(name)
	if v == nil {
		return nil
	}

	n := v.Uint32()
	if v.IsObj {
		n = 0
	}

	return &n
}

func join(high, low uint32) uint64 {
	return uint64(high)<<32 | uint64(low)
}
