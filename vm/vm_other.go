//go:build !(darwin && arm64)

package vm

import (
	"fmt"

	"github.com/appsworld/macho-loader/types"
	"golang.org/x/sys/unix"
)

// Self returns a placeholder task; real VM calls are unreachable off
// arm64 Darwin.
func Self() Task { return 0 }

func unsupported(call string) error {
	return fmt.Errorf("%s: %w (loader only runs on darwin/arm64)", call, unix.ENOTSUP)
}

func Allocate(t Task, size uint64) (uintptr, error) {
	return 0, unsupported("vm_allocate")
}

func Deallocate(t Task, addr uintptr, size uint64) error {
	return unsupported("vm_deallocate")
}

func Write(t Task, dst uintptr, src []byte) error {
	return unsupported("vm_write")
}

func Protect(t Task, addr uintptr, size uint64, setMax bool, prot types.VmProtection) error {
	return unsupported("vm_protect")
}

func RegionProtection(t Task, addr uintptr) (Region, error) {
	return Region{}, unsupported("vm_region")
}
