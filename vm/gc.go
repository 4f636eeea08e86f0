package tvm

import (
	"sort"
	"time"
)

// Stats reports the outcome of one completed collection cycle, so callers
// (the GC tests, for example) can inspect the heap_counter before/after,
// objects kept and elapsed time of a cycle directly rather than parsing it
// back out of log output.
type Stats struct {
	HeapBefore     int
	HeapAfter      int
	BytesReclaimed int
	ObjectsKept    int
	Duration       time.Duration
}

// ptrRef records one occurrence of a pointer to a live object: its absolute
// address, and the address of the heap object containing it (0 for a root
// held directly in a stack/global slot).
type ptrRef struct {
	ptrAddr int
	parent  int
}

// liveNode is one entry in the GC's live-object table.
type liveNode struct {
	addr int
	len  int
	code TypeCode
	ptrs []ptrRef
	next int // index into gcPool.nodes; -1 terminates the chain
}

// gcPool is a chained hash table whose entries are bump-allocated from a
// reusable backing array reset at the start of each cycle rather than
// freed individually. Nodes are addressed by index rather than pointer so
// that growing the backing array mid-cycle (append) never invalidates an
// already-recorded reference.
type gcPool struct {
	nodes   []liveNode
	used    int
	buckets []int
}

const gcPoolMinCapacity = 64

func (p *gcPool) reset(capacity int) {
	if capacity < gcPoolMinCapacity {
		capacity = gcPoolMinCapacity
	}
	if cap(p.buckets) < capacity {
		p.buckets = make([]int, capacity)
	} else {
		p.buckets = p.buckets[:capacity]
	}
	for i := range p.buckets {
		p.buckets[i] = -1
	}
	if len(p.nodes) < capacity {
		p.nodes = make([]liveNode, capacity)
	}
	p.used = 0
}

// alloc draws the next node from the pool, growing the backing array by
// doubling when exhausted.
func (p *gcPool) alloc() int {
	if p.used >= len(p.nodes) {
		grown := make([]liveNode, len(p.nodes)*2)
		copy(grown, p.nodes)
		p.nodes = grown
	}
	idx := p.used
	p.used++
	p.nodes[idx] = liveNode{next: -1}
	return idx
}

func gcHash(addr, capacity, shift int) int {
	h := (addr >> uint(shift)) * 31 % capacity
	if h < 0 {
		h += capacity
	}
	return h
}

func gcShift(width int) int {
	if width == 8 {
		return 3
	}
	return 2
}

// find returns the index of the live-table entry for addr, or -1.
func (p *gcPool) find(addr int, shift int) int {
	idx := gcHash(addr, len(p.buckets), shift)
	for n := p.buckets[idx]; n != -1; n = p.nodes[n].next {
		if p.nodes[n].addr == addr {
			return n
		}
	}
	return -1
}

// insert creates a fresh entry for addr and chains it onto its bucket.
func (p *gcPool) insert(addr int, shift int) int {
	idx := gcHash(addr, len(p.buckets), shift)
	n := p.alloc()
	p.nodes[n].addr = addr
	p.nodes[n].next = p.buckets[idx]
	p.buckets[idx] = n
	return n
}

// Collect runs one mark-and-compact cycle: root discovery from active call
// frames, transitive marking through class field-type arrays and array
// headers, then a sliding compaction pass that relocates every live object
// toward heap_start and rewrites every pointer to it, root or interior.
func (m *Machine) Collect() Stats {
	start := time.Now()
	heapBefore := m.HeapCounter

	estimate := (m.HeapCounter - m.HeapStart) / (4 * m.Width)
	m.gcPool.reset(estimate)

	m.gcMark()
	if m.ErrCode != ErrNone {
		return Stats{}
	}
	newCounter, objectsKept := m.gcCompact()

	m.HeapCounter = newCounter
	stats := Stats{
		HeapBefore:     heapBefore,
		HeapAfter:      newCounter,
		BytesReclaimed: heapBefore - newCounter,
		ObjectsKept:    objectsKept,
		Duration:       time.Since(start),
	}
	m.gcStats = stats
	return stats
}

// LastGC returns the Stats from the most recently completed collection.
func (m *Machine) LastGC() Stats { return m.gcStats }

// gcMark performs root discovery: walk the contiguous chain of active call
// frames starting just past the reserved main-return slot, and mark every
// OBJECT/ARRAY-typed local.
func (m *Machine) gcMark() {
	base := 1 + m.Width
	for f := 0; f <= m.callP; f++ {
		if !m.boundsCheck(base, m.Width) {
			return
		}
		purePush := int(decodeInt(m.Memory[base:base+m.Width], m.Width))
		typePush := alignUp(purePush/m.Width, m.Width)
		for off := m.Width; off <= purePush; off += m.Width {
			slotAddr := base + off
			code := m.runtimeTypeAbs(slotAddr, base)
			if code == TypeObject || code == TypeArray {
				m.markOne(slotAddr, code, 0)
			}
		}
		base += purePush + typePush + m.Width
	}
}

// markOne is the transitive marking step. ptrAddr holds a pointer to a
// heap value of the given type; parent is the address of the containing
// heap object, or 0 for a root.
func (m *Machine) markOne(ptrAddr int, code TypeCode, parent int) {
	if !m.boundsCheck(ptrAddr, m.Width) {
		return
	}
	objAddr := int(decodeInt(m.Memory[ptrAddr:ptrAddr+m.Width], m.Width))
	if objAddr == 0 || objAddr < m.HeapStart {
		return
	}

	shift := gcShift(m.Width)
	if idx := m.gcPool.find(objAddr, shift); idx != -1 {
		m.gcPool.nodes[idx].ptrs = append(m.gcPool.nodes[idx].ptrs, ptrRef{ptrAddr, parent})
		return
	}

	idx := m.gcPool.insert(objAddr, shift)
	m.gcPool.nodes[idx].code = code
	m.gcPool.nodes[idx].ptrs = append(m.gcPool.nodes[idx].ptrs, ptrRef{ptrAddr, parent})

	switch code {
	case TypeObject:
		m.markObjectFields(objAddr, idx)
	case TypeArray:
		m.markArrayElements(objAddr, idx)
	}
}

// markObjectFields walks an instance's payload using its class's
// field-type array. Field addresses follow the instance's two-word header
// (class pointer, payload byte length).
func (m *Machine) markObjectFields(objAddr, nodeIdx int) {
	if !m.boundsCheck(objAddr, m.classFixedHeaderLen()) {
		return
	}
	classPtr := int(decodeInt(m.Memory[objAddr:objAddr+m.Width], m.Width))
	objLen := int(decodeInt(m.Memory[objAddr+m.objectByteLengthPos():objAddr+m.objectByteLengthPos()+m.Width], m.Width))
	m.gcPool.nodes[nodeIdx].len = m.classFixedHeaderLen() + objLen

	if !m.boundsCheck(classPtr+m.classFieldArrayPos(), m.Width) {
		return
	}
	fieldArrayPtr := int(decodeInt(m.Memory[classPtr+m.classFieldArrayPos():classPtr+m.classFieldArrayPos()+m.Width], m.Width))
	fieldTypesBase := fieldArrayPtr + m.arrayHeaderLen()

	payloadBase := objAddr + m.classFixedHeaderLen()
	numFields := objLen / m.Width
	for i := 0; i < numFields; i++ {
		if !m.boundsCheck(fieldTypesBase+i, 1) {
			return
		}
		fieldType := TypeCode(m.Memory[fieldTypesBase+i])
		if fieldType == TypeObject || fieldType == TypeArray {
			m.markOne(payloadBase+i*m.Width, fieldType, objAddr)
		}
	}
}

// markArrayElements walks an ARRAY's payload.
func (m *Machine) markArrayElements(objAddr, nodeIdx int) {
	if !m.boundsCheck(objAddr, m.arrayHeaderLen()) {
		return
	}
	count := int(decodeInt(m.Memory[objAddr:objAddr+m.Width], m.Width))
	elemType := TypeCode(decodeInt(m.Memory[objAddr+m.Width:objAddr+2*m.Width], m.Width))
	elemSize := m.sizeOf(elemType)
	payloadLen := alignUp(count*elemSize, m.Width)
	m.gcPool.nodes[nodeIdx].len = m.arrayHeaderLen() + payloadLen

	if elemType != TypeObject && elemType != TypeArray {
		return
	}
	payloadBase := objAddr + m.arrayHeaderLen()
	for i := 0; i < count; i++ {
		m.markOne(payloadBase+i*elemSize, elemType, objAddr)
	}
}

// gcCompact implements the sweep/compaction and pointer-rewrite phases:
// live objects are visited in increasing address order and slid down to a
// cursor starting at heap_start, using Go's overlap-safe copy as the
// memmove-style primitive; every recorded pointer to a relocated object,
// root or interior, is then rewritten.
func (m *Machine) gcCompact() (newHeapCounter int, objectsKept int) {
	live := make([]int, m.gcPool.used)
	for i := range live {
		live[i] = i
	}
	sort.Slice(live, func(i, j int) bool {
		return m.gcPool.nodes[live[i]].addr < m.gcPool.nodes[live[j]].addr
	})

	oldToNew := make(map[int]int, len(live))
	cursor := m.HeapStart
	for _, idx := range live {
		n := &m.gcPool.nodes[idx]
		if n.len == 0 {
			continue
		}
		if n.addr != cursor {
			copy(m.Memory[cursor:cursor+n.len], m.Memory[n.addr:n.addr+n.len])
		}
		oldToNew[n.addr] = cursor
		cursor += n.len
	}

	for _, idx := range live {
		n := &m.gcPool.nodes[idx]
		newAddr, ok := oldToNew[n.addr]
		if !ok {
			continue
		}
		for _, ref := range n.ptrs {
			if ref.parent == 0 {
				if m.boundsCheck(ref.ptrAddr, m.Width) {
					encodeInt(m.Memory[ref.ptrAddr:ref.ptrAddr+m.Width], int64(newAddr), m.Width)
				}
				continue
			}
			newParent, ok := oldToNew[ref.parent]
			if !ok {
				continue
			}
			offset := ref.ptrAddr - ref.parent
			target := newParent + offset
			if m.boundsCheck(target, m.Width) {
				encodeInt(m.Memory[target:target+m.Width], int64(newAddr), m.Width)
			}
		}
	}

	return cursor, len(live)
}
