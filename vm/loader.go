package tvm

import "fmt"

// header layout constants.
const (
	headerLen      = 16
	signatureLen   = 4
	signatureValue = "TPC_"
)

// Load validates and installs an image into the machine's memory: reject
// early, mutate the VM's segment fields only once validation passes. The
// format itself is a signed header, four prefix-summed segment lengths, a
// payload, and a trailing entry_len word.
func (m *Machine) Load(image []byte) error {
	if len(image) < headerLen+5*m.Width {
		return newHaltError(ErrVMOpt, "image too short: %d bytes", len(image))
	}
	if string(image[:signatureLen]) != signatureValue {
		return newHaltError(ErrVMOpt, "bad signature %q", image[:signatureLen])
	}

	bitWidth := int(image[signatureLen])
	wantWidth := 0
	switch bitWidth {
	case 32:
		wantWidth = 4
	case 64:
		wantWidth = 8
	default:
		return newHaltError(ErrVMOpt, "bad bit width %d", bitWidth)
	}
	if wantWidth != m.Width {
		return newHaltError(ErrVMOpt, "image declares %d-bit width, runtime configured for %d-bit", bitWidth, m.Width*8)
	}

	W := m.Width
	lenWords := image[headerLen : headerLen+4*W]
	stackLen := int(decodeInt(lenWords[0*W:1*W], W))
	globalLen := int(decodeInt(lenWords[1*W:2*W], W))
	literalLen := int(decodeInt(lenWords[2*W:3*W], W))
	classHeaderLen := int(decodeInt(lenWords[3*W:4*W], W))

	if len(image) < W {
		return newHaltError(ErrVMOpt, "image missing trailing entry_len word")
	}
	entryLen := int(decodeInt(image[len(image)-W:], W))

	payloadStart := headerLen + 4*W
	payloadEnd := len(image) - W
	if payloadEnd < payloadStart {
		return newHaltError(ErrVMOpt, "image payload region is negative length")
	}
	payloadLen := payloadEnd - payloadStart

	stackEnd := stackLen
	globalEnd := stackEnd + globalLen
	literalEnd := globalEnd + literalLen
	classHeaderEnd := literalEnd + classHeaderLen
	// The payload begins with the globals, so it is placed at stack_end and
	// each later segment lands on its prefix-summed boundary.
	entryEnd := stackEnd + payloadLen
	functionsEnd := entryEnd - entryLen

	if stackEnd+payloadLen > len(m.Memory) {
		return newHaltError(ErrMemoryOut, "image payload of %d bytes does not fit in %d-byte memory starting at %d", payloadLen, len(m.Memory), stackEnd)
	}
	if functionsEnd < classHeaderEnd {
		return newHaltError(ErrVMOpt, "entry_len %d exceeds payload bounds", entryLen)
	}

	copy(m.Memory[stackEnd:stackEnd+payloadLen], image[payloadStart:payloadEnd])

	m.StackEnd = stackEnd
	m.GlobalEnd = globalEnd
	m.LiteralEnd = literalEnd
	m.ClassHeaderEnd = classHeaderEnd
	m.FunctionsEnd = functionsEnd
	m.EntryEnd = entryEnd
	m.HeapStart = alignUp(entryEnd, W)
	m.HeapCounter = m.HeapStart

	if m.HeapStart > len(m.Memory) {
		return newHaltError(ErrMemoryOut, "heap_start %d exceeds memory size %d", m.HeapStart, len(m.Memory))
	}

	m.PC = functionsEnd
	// sp starts just past the reserved process-wide return-value slot (an
	// INT slot beginning at address 1) and grows toward stack_end as
	// frames are pushed (pushStack fails once sp would reach stack_end).
	// This must line up with gcMark's root-scan base of 1+W.
	m.SP = 1 + W
	m.FP = 0
	m.callP = -1
	m.pcP = -1
	m.retP = -1

	return nil
}

// boundsCheck reports a SEGMENT error if [addr, addr+n) would read or write
// outside the flat memory array.
func (m *Machine) boundsCheck(addr, n int) bool {
	if addr < 0 || n < 0 || addr+n > len(m.Memory) {
		m.fail(ErrSegment, "access [%d, %d) out of bounds (memory size %d)", addr, addr+n, len(m.Memory))
		return false
	}
	return true
}

func (m *Machine) String() string {
	return fmt.Sprintf("tvm.Machine{width=%d stack_end=%d heap=[%d,%d) pc=%d sp=%d fp=%d}",
		m.Width, m.StackEnd, m.HeapStart, len(m.Memory), m.PC, m.SP, m.FP)
}
