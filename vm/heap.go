package tvm

// allocate is a bump-pointer allocator: align len up to W, try to carve it
// out of [heap_counter, N); on exhaustion run the collector once and
// retry; a second failure halts with MEMORY_OUT. Freshly returned memory
// is zeroed, matching a fresh heap image on disk.
func (m *Machine) allocate(length int) int {
	addr, ok := m.tryAllocate(length)
	if ok {
		return addr
	}
	m.Collect()
	if m.ErrCode != ErrNone {
		return 0
	}
	addr, ok = m.tryAllocate(length)
	if !ok {
		m.fail(ErrMemoryOut, "allocate(%d) failed even after gc (heap_counter=%d, N=%d)", length, m.HeapCounter, len(m.Memory))
		return 0
	}
	return addr
}

func (m *Machine) tryAllocate(length int) (int, bool) {
	aligned := alignUp(length, m.Width)
	if m.HeapCounter+aligned > len(m.Memory) {
		return 0, false
	}
	addr := m.HeapCounter
	m.HeapCounter += aligned
	clear(m.Memory[addr : addr+aligned])
	return addr, true
}
