package tvm

// asm is a tiny in-test bytecode assembler used to hand-write entry/function
// bodies and image words for exec_test.go, loader_test.go and image_test.go:
// tests build images directly against the opcode table rather than through
// a compiler.
type asm struct {
	width int
	buf   []byte
}

func newAsm(width int) *asm {
	return &asm{width: width}
}

func (a *asm) len() int { return len(a.buf) }

func (a *asm) op(o Opcode) *asm {
	a.buf = append(a.buf, byte(o))
	return a
}

func (a *asm) reg(r byte) *asm {
	a.buf = append(a.buf, r)
	return a
}

func (a *asm) imm(v int64) *asm {
	b := make([]byte, a.width)
	encodeInt(b, v, a.width)
	a.buf = append(a.buf, b...)
	return a
}

// patch rewrites the W-byte immediate written at byte offset pos (via a
// previous imm call used as a placeholder) to v.
func (a *asm) patch(pos int, v int64) {
	encodeInt(a.buf[pos:pos+a.width], v, a.width)
}

func (a *asm) bytes() []byte { return a.buf }

// -- two-operand convenience wrappers matching the opcode table --

func (a *asm) nop() *asm                    { return a.op(OpNop) }
func (a *asm) iload(r byte, v int64) *asm   { return a.op(OpIload).reg(r).imm(v) }
func (a *asm) aload(r byte, v int64) *asm   { return a.op(OpAload).reg(r).imm(v) }
func (a *asm) aloadSP(r byte, v int64) *asm { return a.op(OpAloadSP).reg(r).imm(v) }
func (a *asm) load(r byte, v int64) *asm    { return a.op(OpLoad).reg(r).imm(v) }
func (a *asm) storeAbs(r1, r2 byte) *asm    { return a.op(OpStoreAbs).reg(r1).reg(r2) }
func (a *asm) store(r1, r2 byte) *asm       { return a.op(OpStore).reg(r1).reg(r2) }
func (a *asm) storebAbs(r1, r2 byte) *asm   { return a.op(OpStorebAbs).reg(r1).reg(r2) }
func (a *asm) pushFP() *asm                 { return a.op(OpPushFP) }
func (a *asm) pullFP() *asm                 { return a.op(OpPullFP) }
func (a *asm) push(n int64) *asm            { return a.op(OpPush).imm(n) }
func (a *asm) setRet(r byte) *asm           { return a.op(OpSetRet).reg(r) }
func (a *asm) putRet(r byte) *asm           { return a.op(OpPutRet).reg(r) }
func (a *asm) ret() *asm                    { return a.op(OpRet) }
func (a *asm) exit() *asm                   { return a.op(OpExit) }
func (a *asm) addi(r1, r2 byte) *asm        { return a.op(OpAddi).reg(r1).reg(r2) }
func (a *asm) subi(r1, r2 byte) *asm        { return a.op(OpSubi).reg(r1).reg(r2) }
func (a *asm) muli(r1, r2 byte) *asm        { return a.op(OpMuli).reg(r1).reg(r2) }
func (a *asm) divi(r1, r2 byte) *asm        { return a.op(OpDivi).reg(r1).reg(r2) }
func (a *asm) modi(r1, r2 byte) *asm        { return a.op(OpModi).reg(r1).reg(r2) }
func (a *asm) lei(r1, r2 byte) *asm         { return a.op(OpLei).reg(r1).reg(r2) }
func (a *asm) invoke(v int64) *asm          { return a.op(OpInvoke).imm(v) }
func (a *asm) mainArgs() *asm               { return a.op(OpMainArgs) }

// jump emits `jump I` with a placeholder I, returning the byte offset of
// the opcode (needed by patchJumpTo) and the offset of the immediate
// placeholder (needed by patch).
func (a *asm) jump() (opAt, immAt int) {
	opAt = a.len()
	a.op(OpJump)
	immAt = a.len()
	a.imm(0)
	return
}

func (a *asm) ifZeroJump(r byte) (opAt, immAt int) {
	opAt = a.len()
	a.op(OpIfZeroJump).reg(r)
	immAt = a.len()
	a.imm(0)
	return
}

// patchJumpTo resolves a jump/if_zero_jump's placeholder immediate given
// the absolute target address `target`, measured relative to the same base
// the instruction stream will be placed at (pass baseAddr so the offsets
// used while assembling at buffer-relative position 0 translate to real
// memory addresses).
//
// exec.go computes, for both opcodes, newPC = immAddr + I + W where immAddr
// is the absolute address of the immediate operand itself, i.e.
// baseAddr+immAt. Solving for I: I = target - immAddr - W.
func (a *asm) patchJumpTo(immAt, baseAddr, opAt, target int) {
	immAddr := baseAddr + immAt
	a.patch(immAt, int64(target-immAddr-a.width))
}
