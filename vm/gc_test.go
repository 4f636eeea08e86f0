package tvm

import "testing"

// Class descriptors and their field-type arrays are modeled here as static
// class-metadata bytes below heap_start, never bump-allocated and
// therefore never visited by mark/compact: every live pointer either is 0,
// points below heap_start (interned/static), or falls within
// [heap_start, heap_counter).
func writeFieldTypeArray(m *Machine, addr int, fieldTypes []TypeCode) {
	encodeInt(m.Memory[addr:addr+m.Width], int64(len(fieldTypes)), m.Width)
	encodeInt(m.Memory[addr+m.Width:addr+2*m.Width], int64(TypeByte), m.Width)
	payload := addr + m.arrayHeaderLen()
	for i, ft := range fieldTypes {
		m.Memory[payload+i] = byte(ft)
	}
}

func writeClassDescriptor(m *Machine, addr, fieldArrayAddr int) {
	encodeInt(m.Memory[addr:addr+m.Width], 0, m.Width)
	encodeInt(m.Memory[addr+m.Width:addr+2*m.Width], 0, m.Width)
	pos := addr + m.classFieldArrayPos()
	encodeInt(m.Memory[pos:pos+m.Width], int64(fieldArrayAddr), m.Width)
}

func allocInstance(m *Machine, classAddr int, fieldVals []int64) int {
	objLen := len(fieldVals) * m.Width
	addr := m.allocate(m.classFixedHeaderLen() + objLen)
	encodeInt(m.Memory[addr:addr+m.Width], int64(classAddr), m.Width)
	pos := addr + m.objectByteLengthPos()
	encodeInt(m.Memory[pos:pos+m.Width], int64(objLen), m.Width)
	payload := addr + m.classFixedHeaderLen()
	for i, v := range fieldVals {
		encodeInt(m.Memory[payload+i*m.Width:payload+(i+1)*m.Width], v, m.Width)
	}
	return addr
}

func allocIntArray(m *Machine, vals []int64) int {
	total := m.arrayHeaderLen() + len(vals)*m.Width
	addr := m.allocate(total)
	encodeInt(m.Memory[addr:addr+m.Width], int64(len(vals)), m.Width)
	encodeInt(m.Memory[addr+m.Width:addr+2*m.Width], int64(TypeInt), m.Width)
	payload := addr + m.arrayHeaderLen()
	for i, v := range vals {
		encodeInt(m.Memory[payload+i*m.Width:payload+(i+1)*m.Width], v, m.Width)
	}
	return addr
}

// writeFrameRoot declares one active frame of n OBJECT/ARRAY-typed locals
// starting at gcMark's root-scan base (1+W), and writes ptrs[i] into local
// slot i. Returns the absolute address of each local slot.
func writeFrameRoot(m *Machine, codes []TypeCode, ptrs []int) []int {
	base := 1 + m.Width
	purePush := len(codes) * m.Width
	encodeInt(m.Memory[base:base+m.Width], int64(purePush), m.Width)
	typeArrayBase := base + m.Width + purePush
	for i, c := range codes {
		m.Memory[typeArrayBase+i] = byte(c)
	}
	slots := make([]int, len(codes))
	for i, ptr := range ptrs {
		off := (i + 1) * m.Width
		addr := base + off
		slots[i] = addr
		encodeInt(m.Memory[addr:addr+m.Width], int64(ptr), m.Width)
	}
	m.callP = 0
	return slots
}

// TestObjectSurvivesGC builds an instance with one OBJECT-typed field
// pointing to a second instance, rooted only through the first; both
// objects must survive a collection with the
// field pointer rewritten to the second object's (possibly new) address.
func TestObjectSurvivesGC(t *testing.T) {
	m := newHeapMachine(t, 4, 16384, 2048)

	leafFields := 400
	writeFieldTypeArray(m, leafFields, nil)
	classLeaf := 416
	writeClassDescriptor(m, classLeaf, leafFields)

	aFields := 300
	writeFieldTypeArray(m, aFields, []TypeCode{TypeObject})
	classA := 316
	writeClassDescriptor(m, classA, aFields)

	instB := allocInstance(m, classLeaf, nil)
	instA := allocInstance(m, classA, []int64{int64(instB)})

	slots := writeFrameRoot(m, []TypeCode{TypeObject}, []int{instA})

	stats := m.Collect()
	if m.ErrCode != ErrNone {
		t.Fatalf("unexpected error: %v", m.Err())
	}
	if stats.ObjectsKept != 2 {
		t.Fatalf("ObjectsKept = %d, want 2", stats.ObjectsKept)
	}

	newA := int(decodeInt(m.Memory[slots[0]:slots[0]+4], 4))
	if newA > instA {
		t.Fatalf("compaction must never grow an address: new=%d old=%d", newA, instA)
	}
	newAClass := int(decodeInt(m.Memory[newA:newA+4], 4))
	if newAClass != classA {
		t.Fatalf("relocated A's class pointer = %d, want %d (static, unmoved)", newAClass, classA)
	}
	fieldAddr := newA + m.classFixedHeaderLen()
	newB := int(decodeInt(m.Memory[fieldAddr:fieldAddr+4], 4))
	if newB == 0 {
		t.Fatal("A's field pointer to B must not be null after GC")
	}
	if decodeInt(m.Memory[newB:newB+4], 4) != int64(classLeaf) {
		t.Fatalf("relocated B's class pointer mismatch")
	}
}

// TestUnreachableObjectCollected builds three equal-sized int arrays, the
// middle one's root cleared to 0 before GC.
func TestUnreachableObjectCollected(t *testing.T) {
	m := newHeapMachine(t, 4, 16384, 2048)

	arr0 := allocIntArray(m, []int64{1, 2, 3})
	arr1 := allocIntArray(m, []int64{4, 5, 6})
	arr2 := allocIntArray(m, []int64{7, 8, 9})
	arrLen := m.arrayHeaderLen() + 3*m.Width

	slots := writeFrameRoot(m,
		[]TypeCode{TypeArray, TypeArray, TypeArray},
		[]int{arr0, arr1, arr2})
	encodeInt(m.Memory[slots[1]:slots[1]+4], 0, 4) // drop the middle root

	heapBefore := m.HeapCounter
	stats := m.Collect()
	if m.ErrCode != ErrNone {
		t.Fatalf("unexpected error: %v", m.Err())
	}

	if stats.ObjectsKept != 2 {
		t.Fatalf("ObjectsKept = %d, want 2", stats.ObjectsKept)
	}
	if got := heapBefore - m.HeapCounter; got != arrLen {
		t.Fatalf("heap_counter decreased by %d, want %d", got, arrLen)
	}

	newArr0 := int(decodeInt(m.Memory[slots[0]:slots[0]+4], 4))
	newArr2 := int(decodeInt(m.Memory[slots[2]:slots[2]+4], 4))
	readInts := func(addr int) [3]int64 {
		var out [3]int64
		payload := addr + m.arrayHeaderLen()
		for i := range out {
			out[i] = decodeInt(m.Memory[payload+i*4:payload+i*4+4], 4)
		}
		return out
	}
	if got := readInts(newArr0); got != [3]int64{1, 2, 3} {
		t.Fatalf("arr0 contents after GC = %v, want [1 2 3]", got)
	}
	if got := readInts(newArr2); got != [3]int64{7, 8, 9} {
		t.Fatalf("arr2 contents after GC = %v, want [7 8 9]", got)
	}
}

// TestGCIdempotent checks that running GC twice in succession leaves
// heap_counter, live contents and pointer values unchanged.
func TestGCIdempotent(t *testing.T) {
	m := newHeapMachine(t, 4, 16384, 2048)

	arr0 := allocIntArray(m, []int64{10, 20})
	arr1 := allocIntArray(m, []int64{30, 40})
	slots := writeFrameRoot(m, []TypeCode{TypeArray, TypeArray}, []int{arr0, arr1})

	m.Collect()
	if m.ErrCode != ErrNone {
		t.Fatalf("first collect failed: %v", m.Err())
	}
	counterAfterFirst := m.HeapCounter
	snapshot := append([]byte(nil), m.Memory[m.HeapStart:m.HeapCounter]...)
	root0, root1 := decodeInt(m.Memory[slots[0]:slots[0]+4], 4), decodeInt(m.Memory[slots[1]:slots[1]+4], 4)

	m.Collect()
	if m.ErrCode != ErrNone {
		t.Fatalf("second collect failed: %v", m.Err())
	}
	if m.HeapCounter != counterAfterFirst {
		t.Fatalf("heap_counter changed on second GC: %d -> %d", counterAfterFirst, m.HeapCounter)
	}
	if string(m.Memory[m.HeapStart:m.HeapCounter]) != string(snapshot) {
		t.Fatal("heap contents changed on second GC")
	}
	newRoot0, newRoot1 := decodeInt(m.Memory[slots[0]:slots[0]+4], 4), decodeInt(m.Memory[slots[1]:slots[1]+4], 4)
	if newRoot0 != root0 || newRoot1 != root1 {
		t.Fatal("root pointer values changed on second GC")
	}
}

// TestAllocationTriggersGC checks that allocating exactly N - heap_counter
// bytes succeeds, and that one more byte makes tryAllocate fail, which is
// the condition under which allocate runs the collector.
func TestAllocationTriggersGC(t *testing.T) {
	const memSize = 4096
	m := newHeapMachine(t, 4, memSize, 2048)

	exact := memSize - m.HeapCounter
	addr, ok := m.tryAllocate(exact)
	if !ok {
		t.Fatalf("allocating exactly the remaining %d bytes should succeed", exact)
	}
	if addr != 2048 {
		t.Fatalf("addr = %d, want 2048", addr)
	}
	if m.HeapCounter != memSize {
		t.Fatalf("heap_counter = %d, want %d", m.HeapCounter, memSize)
	}

	_, ok = m.tryAllocate(1)
	if ok {
		t.Fatal("allocating one more byte than remains should fail tryAllocate (forcing a GC in allocate)")
	}
}
