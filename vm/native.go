package tvm

import (
	"fmt"
	"time"
)

// nativeArg resolves the address of argument i inside the native's
// just-opened pseudo frame, reading from frame-relative offsets 0..k via
// true_addr. It must only be called between pushCall and pullCall.
func (m *Machine) nativeArg(i int) int {
	return m.trueAddr(i * m.Width)
}

// nativeFrame enforces the scoped calling convention via a single helper
// rather than leaving push/pull pairing to each native's body: push_fp,
// push(localWords), run body, pull_fp. Guaranteed symmetric even if body
// records an error mid-way.
func (m *Machine) nativeFrame(localWords int, body func()) {
	m.pushCall()
	if m.ErrCode != ErrNone {
		return
	}
	if localWords > 0 {
		m.pushStack(localWords * m.Width)
		if m.ErrCode != ErrNone {
			m.pullCall()
			return
		}
	}
	body()
	m.pullCall()
}

// nativeReturn writes v to the top of ret_stack and pops it, mirroring the
// put_ret opcode, for natives whose table entry declares a result ("-> I").
func (m *Machine) nativeReturn(v int64) {
	addr, ok := m.peekRet()
	if !ok {
		return
	}
	if m.boundsCheck(addr, m.Width) {
		encodeInt(m.Memory[addr:addr+m.Width], v, m.Width)
	}
	m.popRet()
}

// invoke dispatches the fixed native call table. Any id outside the table
// halts with NATIVE_INVOKE.
func (m *Machine) invoke(id NativeID) {
	switch id {
	case NativePrintInt:
		m.nativeFrame(0, func() {
			v := m.readInt(m.nativeArg(0))
			fmt.Fprintf(m.Stdout, "%d", v)
		})
	case NativePrintlnInt:
		m.nativeFrame(0, func() {
			v := m.readInt(m.nativeArg(0))
			fmt.Fprintf(m.Stdout, "%d\n", v)
		})
	case NativeClock:
		m.nativeFrame(0, func() {
			m.nativeReturn(time.Now().UnixNano())
		})
	case NativePrintChar:
		m.nativeFrame(0, func() {
			c := m.readChar(m.nativeArg(0))
			fmt.Fprintf(m.Stdout, "%c", rune(c))
		})
	case NativePrintlnChar:
		m.nativeFrame(0, func() {
			c := m.readChar(m.nativeArg(0))
			fmt.Fprintf(m.Stdout, "%c\n", rune(c))
		})
	case NativePrintFloat:
		m.nativeFrame(0, func() {
			f := m.readFloat(m.nativeArg(0))
			fmt.Fprintf(m.Stdout, "%g", f)
		})
	case NativePrintlnFloat:
		m.nativeFrame(0, func() {
			f := m.readFloat(m.nativeArg(0))
			fmt.Fprintf(m.Stdout, "%g\n", f)
		})
	case NativePrintStr:
		m.nativeFrame(0, func() {
			ptr := int(m.readInt(m.nativeArg(0)))
			fmt.Fprint(m.Stdout, m.readCharArray(ptr))
		})
	case NativePrintlnStr:
		m.nativeFrame(0, func() {
			ptr := int(m.readInt(m.nativeArg(0)))
			fmt.Fprintln(m.Stdout, m.readCharArray(ptr))
		})
	case NativeMalloc:
		m.nativeFrame(0, func() {
			length := int(m.readInt(m.nativeArg(0)))
			addr := m.allocate(length)
			m.nativeReturn(int64(addr))
		})
	case NativeFree:
		// No-op in a garbage-collected configuration; reserved.
		m.nativeFrame(0, func() {})
	case NativeHeapArray:
		m.nativeFrame(0, func() {
			atomSize := int(m.readInt(m.nativeArg(0)))
			dimsPtr := int(m.readInt(m.nativeArg(1)))
			addr := m.buildHeapArrayRoot(atomSize, dimsPtr)
			m.nativeReturn(int64(addr))
		})
	default:
		m.fail(ErrNativeInvoke, "unknown native id %d", id)
	}
}

func (m *Machine) readInt(addr int) int64 {
	if !m.boundsCheck(addr, m.Width) {
		return 0
	}
	return decodeInt(m.Memory[addr:addr+m.Width], m.Width)
}

func (m *Machine) readFloat(addr int) float64 {
	if !m.boundsCheck(addr, m.Width) {
		return 0
	}
	return decodeFloat(m.Memory[addr:addr+m.Width], m.Width)
}

func (m *Machine) readChar(addr int) uint16 {
	if !m.boundsCheck(addr, 2) {
		return 0
	}
	return decodeChar(m.Memory[addr : addr+2])
}

// readCharArray decodes an ARRAY-of-char at ptr into a Go string.
func (m *Machine) readCharArray(ptr int) string {
	if ptr == 0 {
		m.fail(ErrNullPointer, "print of null string pointer")
		return ""
	}
	if !m.boundsCheck(ptr, m.arrayHeaderLen()) {
		return ""
	}
	count := int(decodeInt(m.Memory[ptr:ptr+m.Width], m.Width))
	payload := ptr + m.arrayHeaderLen()
	if !m.boundsCheck(payload, count*2) {
		return ""
	}
	runes := make([]rune, count)
	for i := 0; i < count; i++ {
		runes[i] = rune(decodeChar(m.Memory[payload+i*2 : payload+i*2+2]))
	}
	return string(runes)
}

// allocCharArray materializes a Go string as an ARRAY-of-char on the heap.
func (m *Machine) allocCharArray(s string) int {
	n := len([]rune(s))
	total := m.arrayHeaderLen() + n*2
	base := m.allocate(total)
	if m.ErrCode != ErrNone {
		return 0
	}
	encodeInt(m.Memory[base:base+m.Width], int64(n), m.Width)
	encodeInt(m.Memory[base+m.Width:base+2*m.Width], int64(TypeChar), m.Width)
	payload := base + m.arrayHeaderLen()
	for i, r := range []rune(s) {
		encodeChar(m.Memory[payload+i*2:payload+i*2+2], uint16(r))
	}
	return base
}

// allocPointerArray materializes an ARRAY whose elements are themselves
// heap pointers (used for argv's outer array; heap_array writes its own
// array headers).
func (m *Machine) allocPointerArray(elemType TypeCode, ptrs []int) int {
	n := len(ptrs)
	total := m.arrayHeaderLen() + n*m.Width
	base := m.allocate(total)
	if m.ErrCode != ErrNone {
		return 0
	}
	encodeInt(m.Memory[base:base+m.Width], int64(n), m.Width)
	encodeInt(m.Memory[base+m.Width:base+2*m.Width], int64(elemType), m.Width)
	payload := base + m.arrayHeaderLen()
	for i, p := range ptrs {
		encodeInt(m.Memory[payload+i*m.Width:payload+(i+1)*m.Width], int64(p), m.Width)
	}
	return base
}

// execMainArgs implements the main_args opcode: build an array-of-string
// on the heap from the machine's argv and write its pointer to
// M[true_addr_sp(0)..+W].
func (m *Machine) execMainArgs() {
	strPtrs := make([]int, len(m.Args))
	for i, s := range m.Args {
		strPtrs[i] = m.allocCharArray(s)
		if m.ErrCode != ErrNone {
			return
		}
	}
	outer := m.allocPointerArray(TypeArray, strPtrs)
	if m.ErrCode != ErrNone {
		return
	}
	addr := m.trueAddrSP(0)
	if m.boundsCheck(addr, m.Width) {
		encodeInt(m.Memory[addr:addr+m.Width], int64(outer), m.Width)
	}
}

// atomTypeCode guesses the type code to record for a heap_array's leaf
// level from its atom size in bytes — the native table only passes a byte
// count, not a type code.
func atomTypeCode(atomSize int) TypeCode {
	switch atomSize {
	case 1:
		return TypeByte
	case 2:
		return TypeChar
	default:
		return TypeInt
	}
}

// buildHeapArrayRoot implements the heap_array native (id 12): dimsPtr
// points to an ARRAY-of-int holding dimensions d0..d(k-1), -1 marking a
// deferred (unallocated) tail. It allocates one contiguous block sized for
// the whole nested structure up front, then fills it in a single
// left-to-right pass so parent arrays always precede their children in
// memory.
func (m *Machine) buildHeapArrayRoot(atomSize, dimsPtr int) int {
	if !m.boundsCheck(dimsPtr, m.arrayHeaderLen()) {
		return 0
	}
	count := int(decodeInt(m.Memory[dimsPtr:dimsPtr+m.Width], m.Width))
	payload := dimsPtr + m.arrayHeaderLen()
	if !m.boundsCheck(payload, count*m.Width) {
		return 0
	}
	dims := make([]int64, count)
	for i := 0; i < count; i++ {
		dims[i] = decodeInt(m.Memory[payload+i*m.Width:payload+(i+1)*m.Width], m.Width)
	}
	if count == 0 || dims[0] == -1 {
		m.fail(ErrNativeInvoke, "heap_array: first dimension must not be deferred")
		return 0
	}

	total := m.heapArraySize(atomSize, dims, 0)
	base := m.allocate(total)
	if m.ErrCode != ErrNone {
		return 0
	}
	cursor := base
	return m.buildHeapArrayLevel(&cursor, atomSize, dims, 0)
}

func (m *Machine) heapArraySize(atomSize int, dims []int64, i int) int {
	n := int(dims[i])
	deferredNext := i+1 >= len(dims) || dims[i+1] == -1
	elemSize := m.Width
	if deferredNext {
		elemSize = atomSize
	}
	size := alignUp(m.arrayHeaderLen()+n*elemSize, m.Width)
	if !deferredNext {
		for j := 0; j < n; j++ {
			size += m.heapArraySize(atomSize, dims, i+1)
		}
	}
	return size
}

func (m *Machine) buildHeapArrayLevel(cursor *int, atomSize int, dims []int64, i int) int {
	addr := *cursor
	n := int(dims[i])
	deferredNext := i+1 >= len(dims) || dims[i+1] == -1

	elemSize := m.Width
	elemType := TypeArray
	if deferredNext {
		elemSize = atomSize
		elemType = atomTypeCode(atomSize)
	}
	totalBytes := alignUp(m.arrayHeaderLen()+n*elemSize, m.Width)
	*cursor += totalBytes

	encodeInt(m.Memory[addr:addr+m.Width], int64(n), m.Width)
	encodeInt(m.Memory[addr+m.Width:addr+2*m.Width], int64(elemType), m.Width)

	if deferredNext {
		return addr
	}
	payloadBase := addr + m.arrayHeaderLen()
	for j := 0; j < n; j++ {
		var childPtr int
		if dims[i+1] == -1 {
			childPtr = 0
		} else {
			childPtr = m.buildHeapArrayLevel(cursor, atomSize, dims, i+1)
		}
		encodeInt(m.Memory[payloadBase+j*m.Width:payloadBase+(j+1)*m.Width], int64(childPtr), m.Width)
	}
	return addr
}
