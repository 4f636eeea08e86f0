package tvm

import (
	"io"
	"os"
)

// Register is a fixed 8-byte slot reinterpretable as int, float, char or
// byte depending on the opcode that touches it — a tagged-at-use union, not
// a sum type. It carries either word width in its low W bytes.
type Register [8]byte

func (r *Register) Int(width int) int64       { return decodeInt(r[:width], width) }
func (r *Register) SetInt(v int64, width int) { encodeInt(r[:width], v, width) }

func (r *Register) Float(width int) float64       { return decodeFloat(r[:width], width) }
func (r *Register) SetFloat(v float64, width int) { encodeFloat(r[:width], v, width) }

func (r *Register) Char() uint16       { return decodeChar(r[:2]) }
func (r *Register) SetChar(v uint16)   { encodeChar(r[:2], v) }

func (r *Register) Byte() byte     { return r[0] }
func (r *Register) SetByte(v byte) { r[0] = v }

const numRegisters = 8

// Machine is the VM's entire mutable state, encapsulated into one owned
// value rather than package-level globals; every operation here takes
// *Machine explicitly, including the garbage collector, which borrows it
// mutably for the duration of a cycle.
type Machine struct {
	Memory []byte
	Width  int // W: 4 or 8, declared by the loaded image

	// Segment boundaries, in ascending order.
	StackEnd       int
	GlobalEnd      int
	LiteralEnd     int
	ClassHeaderEnd int
	FunctionsEnd   int
	EntryEnd       int
	HeapStart      int
	HeapCounter    int

	Registers [numRegisters]Register
	PC        int
	SP        int
	FP        int

	// Frame discipline: three parallel stacks, sized to RecursionLimit.
	callStack []int // stores fp
	callP     int   // -1 means no active frame
	pcStack   []int // stores return pc
	pcP       int
	retStack  []int // stores true addr of pending return slots
	retP      int

	RecursionLimit int

	ErrCode   ErrorCode
	errDetail error

	Stdout io.Writer

	// Args holds the program's argv, materialized onto the heap by the
	// main_args opcode.
	Args []string

	// gcStats records the outcome of the most recently completed collection
	// cycle.
	gcStats Stats
	// gcPool backs the live-object table used during a collection; reused
	// across cycles.
	gcPool gcPool
}

// New constructs a Machine with the given flat memory size and word width.
// It does not yet have a loaded image; call Load to populate segments.
func New(memSize, width int) *Machine {
	if width != 4 && width != 8 {
		panic("tvm: width must be 4 or 8")
	}
	m := &Machine{
		Memory:         make([]byte, memSize),
		Width:          width,
		RecursionLimit: recursionLimitDefault,
		Stdout:         os.Stdout,
	}
	m.callStack = make([]int, m.RecursionLimit)
	m.pcStack = make([]int, m.RecursionLimit)
	m.retStack = make([]int, m.RecursionLimit)
	m.callP = -1
	m.pcP = -1
	m.retP = -1
	return m
}

// SetRecursionLimit reallocates the three frame stacks to hold n entries and
// resets frame depth to empty. Call it before Load/RunProgram; it must not
// be called while a frame is active, since the stacks it replaces may still
// hold live call state.
func (m *Machine) SetRecursionLimit(n int) {
	m.RecursionLimit = n
	m.callStack = make([]int, n)
	m.pcStack = make([]int, n)
	m.retStack = make([]int, n)
	m.callP = -1
	m.pcP = -1
	m.retP = -1
}

// mainReturnPtr is the fixed stack address holding the process-wide return
// value / exit code.
func (m *Machine) mainReturnPtr() int { return 1 }

// ExitCode reads the integer written to the reserved return-value slot.
func (m *Machine) ExitCode() int64 {
	return decodeInt(m.Memory[m.mainReturnPtr():m.mainReturnPtr()+m.Width], m.Width)
}

func (m *Machine) setExitCode(v int64) {
	encodeInt(m.Memory[m.mainReturnPtr():m.mainReturnPtr()+m.Width], v, m.Width)
}
