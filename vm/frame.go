package tvm

// trueAddr implements the address-translation rule: a small integer below
// stack_end is frame-relative to fp when a frame is active; otherwise it is
// treated as already absolute.
func (m *Machine) trueAddr(p int) int {
	if p < m.StackEnd && m.callP >= 0 {
		return p + m.FP
	}
	return p
}

// trueAddrSP is trueAddr with sp substituted for fp.
func (m *Machine) trueAddrSP(p int) int {
	if p < m.StackEnd && m.callP >= 0 {
		return p + m.SP
	}
	return p
}

// runtimeTypeAbs returns the type-code byte recorded for the local slot at
// absolute address a within the frame based at b: the type-code array
// follows the W-word pure_push header and the locals region it describes.
func (m *Machine) runtimeTypeAbs(a, b int) TypeCode {
	W := m.Width
	purePush := int(decodeInt(m.Memory[b:b+W], W))
	typeArrayBase := b + W + purePush
	idx := (a - b - W) / W
	return TypeCode(m.Memory[typeArrayBase+idx])
}

// frameSize returns the total byte length a frame with the given pure_push
// occupies: the W-byte header, pure_push bytes of locals, and the
// W-aligned type-code array.
func (m *Machine) frameSize(purePush int) int {
	W := m.Width
	typePush := alignUp(purePush/W, W)
	return W + purePush + typePush
}

// pushStack grows sp by n, the "push" opcode's operand, failing
// STACK_OVERFLOW if sp would reach or cross stack_end.
func (m *Machine) pushStack(n int) {
	if m.SP+n >= m.StackEnd {
		m.fail(ErrStackOverflow, "sp %d + %d would reach or cross stack_end %d", m.SP, n, m.StackEnd)
		return
	}
	m.SP += n
}

// pushCall implements push_fp (opcode 14): push the current fp onto
// call_stack, then fp <- sp.
func (m *Machine) pushCall() {
	m.callP++
	if m.callP >= len(m.callStack) {
		m.fail(ErrStackOverflow, "call_stack overflow at depth %d", m.callP)
		m.callP--
		return
	}
	m.callStack[m.callP] = m.FP
	m.FP = m.SP
}

// pullCall implements pull_fp (opcode 15): sp <- fp, fp <- pop(call_stack).
func (m *Machine) pullCall() {
	if m.callP < 0 {
		m.fail(ErrStackOverflow, "pull_fp with no active frame")
		return
	}
	m.SP = m.FP
	m.FP = m.callStack[m.callP]
	m.callP--
}

// pushPC pushes a return address onto pc_stack, used by call (opcode 17).
func (m *Machine) pushPC(addr int) {
	m.pcP++
	if m.pcP >= len(m.pcStack) {
		m.fail(ErrStackOverflow, "pc_stack overflow at depth %d", m.pcP)
		m.pcP--
		return
	}
	m.pcStack[m.pcP] = addr
}

// popPC pops a return address, used by ret (opcode 13).
func (m *Machine) popPC() int {
	if m.pcP < 0 {
		m.fail(ErrStackOverflow, "ret with empty pc_stack")
		return m.PC
	}
	addr := m.pcStack[m.pcP]
	m.pcP--
	return addr
}

// pushRet pushes the true address a native/callee should write its return
// value to, used by set_ret (opcode 16).
func (m *Machine) pushRet(addr int) {
	m.retP++
	if m.retP >= len(m.retStack) {
		m.fail(ErrStackOverflow, "ret_stack overflow at depth %d", m.retP)
		m.retP--
		return
	}
	m.retStack[m.retP] = addr
}

// popRet pops the pending return-value address, used by put_ret (opcode 21).
func (m *Machine) popRet() int {
	if m.retP < 0 {
		m.fail(ErrStackOverflow, "put_ret with empty ret_stack")
		return 0
	}
	addr := m.retStack[m.retP]
	m.retP--
	return addr
}

// peekRet reads the top of ret_stack without popping it, used by natives
// that write a return value via the scoped calling convention.
func (m *Machine) peekRet() (int, bool) {
	if m.retP < 0 {
		return 0, false
	}
	return m.retStack[m.retP], true
}
