//go:build !linux

package placement

var setAffinity func(core int) error
