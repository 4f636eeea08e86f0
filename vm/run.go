package tvm

import (
	"os"
	"runtime/debug"
	"strconv"
)

// envInt reads an integer-valued environment variable, falling back to def
// on absence or parse failure.
func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return int(n)
}

// RecursionLimitFromEnv reads TPCVM_RECURSION_LIMIT, defaulting to
// recursionLimitDefault.
func RecursionLimitFromEnv() int {
	return envInt("TPCVM_RECURSION_LIMIT", recursionLimitDefault)
}

// MemSizeFromEnv reads TPCVM_MEM_SIZE, defaulting to memorySizeDefault.
func MemSizeFromEnv() int {
	return envInt("TPCVM_MEM_SIZE", memorySizeDefault)
}

func gogcFromEnv() int {
	return envInt("GOGC", 100)
}

// RunProgram executes the loaded image to completion. It disables the Go
// runtime's own garbage collector for the duration of the dispatch loop,
// setting it back on return to the percentage the GOGC environment variable
// names (100 when unset or unparsable): allocation inside the dispatch
// step is rare enough (the guest heap is managed separately, by Collect)
// that the host GC only gets in the way.
func (m *Machine) RunProgram() error {
	gcPercent := gogcFromEnv()
	defer debug.SetGCPercent(gcPercent)
	debug.SetGCPercent(-1)

	return m.Run()
}
