package tvm

// Run executes instructions starting at the machine's current pc until an
// exit opcode is reached or an error code becomes non-zero.
func (m *Machine) Run() error {
	for m.ErrCode == ErrNone {
		if !m.step() {
			break
		}
	}
	if err := m.Err(); err != nil {
		m.setExitCode(int64(m.ErrCode))
		return err
	}
	return nil
}

// step executes exactly one instruction. It returns false when the loop
// should stop (exit opcode reached, or an error was just recorded).
func (m *Machine) step() bool {
	W := m.Width
	if !m.boundsCheck(m.PC, 1) {
		return false
	}
	op := Opcode(m.Memory[m.PC])
	opStart := m.PC

	reg := func(off int) *Register {
		if !m.boundsCheck(opStart+off, 1) {
			return &m.Registers[0]
		}
		idx := int(m.Memory[opStart+off])
		if idx < 0 || idx >= numRegisters {
			m.fail(ErrInstruction, "register index %d out of range", idx)
			return &m.Registers[0]
		}
		return &m.Registers[idx]
	}
	imm := func(off int) int {
		if !m.boundsCheck(opStart+off, W) {
			return 0
		}
		return int(decodeInt(m.Memory[opStart+off:opStart+off+W], W))
	}

	switch op {
	case OpNop, OpSleep:
		m.PC++

	case OpLoad:
		r, i := reg(1), imm(2)
		addr := m.trueAddr(i)
		if m.boundsCheck(addr, W) {
			r.SetInt(decodeInt(m.Memory[addr:addr+W], W), W)
		}
		m.PC += 2 + W

	case OpIload:
		r, i := reg(1), imm(2)
		r.SetInt(int64(i), W)
		m.PC += 2 + W

	case OpAload:
		r, i := reg(1), imm(2)
		r.SetInt(int64(m.trueAddr(i)), W)
		m.PC += 2 + W

	case OpAloadSP:
		r, i := reg(1), imm(2)
		r.SetInt(int64(m.trueAddrSP(i)), W)
		m.PC += 2 + W

	case OpStore:
		r1, r2 := reg(1), reg(2)
		addr := m.trueAddr(int(r1.Int(W)))
		if m.boundsCheck(addr, W) {
			encodeInt(m.Memory[addr:addr+W], r2.Int(W), W)
		}
		m.PC += 3

	case OpAstore:
		r1, r2 := reg(1), reg(2)
		addr := m.trueAddr(int(r1.Int(W)))
		if m.boundsCheck(addr, W) {
			encodeInt(m.Memory[addr:addr+W], int64(m.trueAddr(int(r2.Int(W)))), W)
		}
		m.PC += 3

	case OpAstoreSP:
		r1, r2 := reg(1), reg(2)
		addr := int(r1.Int(W))
		if m.boundsCheck(addr, W) {
			encodeInt(m.Memory[addr:addr+W], r2.Int(W), W)
		}
		m.PC += 3

	case OpStoreAbs:
		r1, r2 := reg(1), reg(2)
		addr := int(r1.Int(W))
		if m.boundsCheck(addr, W) {
			encodeInt(m.Memory[addr:addr+W], r2.Int(W), W)
		}
		m.PC += 3

	case OpJump:
		i := imm(1)
		m.PC = opStart + 1 + i + W

	case OpPush:
		i := imm(1)
		m.pushStack(i)
		m.PC += 1 + W

	case OpRet:
		m.PC = m.popPC()

	case OpPushFP:
		m.pushCall()
		m.PC++

	case OpPullFP:
		m.pullCall()
		m.PC++

	case OpSetRet:
		r := reg(1)
		m.pushRet(m.trueAddr(int(r.Int(W))))
		m.PC += 2

	case OpCall:
		i := imm(1)
		retAddr := m.PC + 1 + W
		addr := m.trueAddr(i)
		if m.boundsCheck(addr, W) {
			target := int(decodeInt(m.Memory[addr:addr+W], W))
			m.pushPC(retAddr)
			m.PC = m.trueAddr(target)
		} else {
			m.PC = retAddr
		}

	case OpExit:
		return false

	case OpTrueAdr:
		r := reg(1)
		r.SetInt(int64(m.trueAddr(int(r.Int(W)))), W)
		m.PC += 2

	case OpPutRet:
		r := reg(1)
		addr := m.popRet()
		if m.boundsCheck(addr, W) {
			encodeInt(m.Memory[addr:addr+W], r.Int(W), W)
		}
		m.PC += 2

	case OpCopy:
		r1, r2 := reg(1), reg(2)
		dst, src := int(r1.Int(W)), int(r2.Int(W))
		if m.boundsCheck(dst, W) && m.boundsCheck(src, W) {
			copy(m.Memory[dst:dst+W], m.Memory[src:src+W])
		}
		m.PC += 3

	case OpIfZeroJump:
		r, i := reg(1), imm(2)
		if r.Int(W) == 0 {
			m.PC = opStart + 2 + i + W
		} else {
			m.PC += 2 + W
		}

	case OpInvoke:
		i := imm(1)
		addr := m.trueAddr(i)
		if m.boundsCheck(addr, W) {
			id := NativeID(decodeInt(m.Memory[addr:addr+W], W))
			m.PC += 1 + W
			m.invoke(id)
		} else {
			m.PC += 1 + W
		}

	case OpRloadAbs:
		r1, r2 := reg(1), reg(2)
		addr := int(r2.Int(W))
		if m.boundsCheck(addr, W) {
			r1.SetInt(decodeInt(m.Memory[addr:addr+W], W), W)
		}
		m.PC += 3

	case OpRloadcAbs:
		r1, r2 := reg(1), reg(2)
		addr := int(r2.Int(W))
		if m.boundsCheck(addr, 2) {
			r1.SetChar(decodeChar(m.Memory[addr : addr+2]))
		}
		m.PC += 3

	case OpRloadbAbs:
		r1, r2 := reg(1), reg(2)
		addr := int(r2.Int(W))
		if m.boundsCheck(addr, 1) {
			r1.SetByte(m.Memory[addr])
		}
		m.PC += 3

	case OpAddi, OpSubi, OpMuli, OpDivi, OpModi:
		r1, r2 := reg(1), reg(2)
		a, b := r1.Int(W), r2.Int(W)
		switch op {
		case OpAddi:
			r1.SetInt(a+b, W)
		case OpSubi:
			r1.SetInt(a-b, W)
		case OpMuli:
			r1.SetInt(a*b, W)
		case OpDivi:
			if b == 0 {
				m.fail(ErrSegment, "integer division by zero")
			} else {
				r1.SetInt(a/b, W)
			}
		case OpModi:
			if b == 0 {
				m.fail(ErrSegment, "integer modulo by zero")
			} else {
				r1.SetInt(a%b, W)
			}
		}
		m.PC += 3

	case OpEqi, OpNei, OpGti, OpLti, OpGei, OpLei:
		r1, r2 := reg(1), reg(2)
		a, b := r1.Int(W), r2.Int(W)
		r1.SetInt(boolInt(compareInt(op, a, b)), W)
		m.PC += 3

	case OpNegi:
		r := reg(1)
		r.SetInt(-r.Int(W), W)
		m.PC += 2

	case OpNot:
		r := reg(1)
		r.SetInt(boolInt(r.Int(W) == 0), W)
		m.PC += 2

	case OpAddf, OpSubf, OpMulf, OpDivf, OpModf:
		r1, r2 := reg(1), reg(2)
		a, b := r1.Float(W), r2.Float(W)
		switch op {
		case OpAddf:
			r1.SetFloat(a+b, W)
		case OpSubf:
			r1.SetFloat(a-b, W)
		case OpMulf:
			r1.SetFloat(a*b, W)
		case OpDivf:
			r1.SetFloat(a/b, W)
		case OpModf:
			// modf is repeated subtraction.
			v := a
			if b != 0 {
				for v >= b {
					v -= b
				}
			}
			r1.SetFloat(v, W)
		}
		m.PC += 3

	case OpEqf, OpNef, OpGtf, OpLtf, OpGef, OpLef:
		r1, r2 := reg(1), reg(2)
		a, b := r1.Float(W), r2.Float(W)
		r1.SetInt(boolInt(compareFloat(op, a, b)), W)
		m.PC += 3

	case OpNegf:
		r := reg(1)
		r.SetFloat(-r.Float(W), W)
		m.PC += 2

	case OpItoF:
		r := reg(1)
		r.SetFloat(float64(r.Int(W)), W)
		m.PC += 2

	case OpFtoI:
		r := reg(1)
		r.SetInt(int64(r.Float(W)), W)
		m.PC += 2

	case OpLoadc:
		r, i := reg(1), imm(2)
		addr := m.trueAddr(i)
		if m.boundsCheck(addr, 2) {
			r.SetChar(decodeChar(m.Memory[addr : addr+2]))
		}
		m.PC += 2 + W

	case OpStorec:
		r1, r2 := reg(1), reg(2)
		addr := m.trueAddr(int(r1.Int(W)))
		if m.boundsCheck(addr, 2) {
			encodeChar(m.Memory[addr:addr+2], r2.Char())
		}
		m.PC += 3

	case OpStorecAbs:
		r1, r2 := reg(1), reg(2)
		addr := int(r1.Int(W))
		if m.boundsCheck(addr, 2) {
			encodeChar(m.Memory[addr:addr+2], r2.Char())
		}
		m.PC += 3

	case OpMainArgs:
		m.execMainArgs()
		m.PC++

	case OpLoadb:
		r, i := reg(1), imm(2)
		addr := m.trueAddr(i)
		if m.boundsCheck(addr, 1) {
			r.SetByte(m.Memory[addr])
		}
		m.PC += 2 + W

	case OpStoreb:
		r1, r2 := reg(1), reg(2)
		addr := m.trueAddr(int(r1.Int(W)))
		if m.boundsCheck(addr, 1) {
			m.Memory[addr] = r2.Byte()
		}
		m.PC += 3

	case OpStorebAbs:
		r1, r2 := reg(1), reg(2)
		addr := int(r1.Int(W))
		if m.boundsCheck(addr, 1) {
			m.Memory[addr] = r2.Byte()
		}
		m.PC += 3

	default:
		m.fail(ErrInstruction, "unrecognized opcode %d at pc=%d", op, opStart)
	}

	return m.ErrCode == ErrNone
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func compareInt(op Opcode, a, b int64) bool {
	switch op {
	case OpEqi:
		return a == b
	case OpNei:
		return a != b
	case OpGti:
		return a > b
	case OpLti:
		return a < b
	case OpGei:
		return a >= b
	case OpLei:
		return a <= b
	}
	return false
}

func compareFloat(op Opcode, a, b float64) bool {
	switch op {
	case OpEqf:
		return a == b
	case OpNef:
		return a != b
	case OpGtf:
		return a > b
	case OpLtf:
		return a < b
	case OpGef:
		return a >= b
	case OpLef:
		return a <= b
	}
	return false
}
