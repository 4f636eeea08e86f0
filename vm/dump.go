package tvm

import (
	"fmt"
	"io"
)

// heapPreviewBytes bounds the -m flag's quick heap preview.
const heapPreviewBytes = 128

// DumpMemory writes a segment-by-segment hex dump of stack, globals,
// literals, functions and entry, followed by either the first
// heapPreviewBytes of the heap (full=false, the -m flag) or the entire live
// heap region (full=true, -fm).
func (m *Machine) DumpMemory(w io.Writer, full bool) {
	section := func(name string, lo, hi int) {
		if lo > hi {
			lo = hi
		}
		fmt.Fprintf(w, "-- %s [%d, %d) --\n", name, lo, hi)
		dumpHex(w, m.Memory[lo:hi], lo)
	}

	section("stack", 0, m.StackEnd)
	section("globals", m.StackEnd, m.GlobalEnd)
	section("literals", m.GlobalEnd, m.LiteralEnd)
	section("class headers", m.LiteralEnd, m.ClassHeaderEnd)
	section("functions", m.ClassHeaderEnd, m.FunctionsEnd)
	section("entry", m.FunctionsEnd, m.EntryEnd)

	heapEnd := m.HeapCounter
	if full {
		fmt.Fprintf(w, "-- heap [%d, %d) --\n", m.HeapStart, heapEnd)
		dumpHex(w, m.Memory[m.HeapStart:heapEnd], m.HeapStart)
	} else {
		previewEnd := m.HeapStart + heapPreviewBytes
		if previewEnd > len(m.Memory) {
			previewEnd = len(m.Memory)
		}
		fmt.Fprintf(w, "-- heap preview [%d, %d) --\n", m.HeapStart, previewEnd)
		dumpHex(w, m.Memory[m.HeapStart:previewEnd], m.HeapStart)
	}
}

func dumpHex(w io.Writer, b []byte, base int) {
	const perLine = 16
	for i := 0; i < len(b); i += perLine {
		end := i + perLine
		if end > len(b) {
			end = len(b)
		}
		fmt.Fprintf(w, "%08x  ", base+i)
		for j := i; j < end; j++ {
			fmt.Fprintf(w, "%02x ", b[j])
		}
		fmt.Fprintln(w)
	}
}
