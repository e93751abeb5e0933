//go:build linux

package placement

import "golang.org/x/sys/unix"

var setAffinity = func(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	// pid 0 targets the calling thread
	return unix.SchedSetaffinity(0, &set)
}
