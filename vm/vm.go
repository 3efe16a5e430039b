// Package vm wraps the arm64 Darwin Mach kernel's virtual-memory
// primitives: allocate, deallocate, write, protect, and query-protection
// against a task port. It targets the calling task exclusively — this
// loader never operates on another process's address space.
package vm

import (
	"strconv"

	"github.com/appsworld/macho-loader/types"
)

// Task identifies the target of every call in this package. The only
// value this module ever constructs is the loader's own task, obtained
// from Self().
type Task uintptr

// AllocationFailed reports that mach_vm_allocate refused a request.
type AllocationFailed struct{ Code int32 }

func (e *AllocationFailed) Error() string { return errString("vm_allocate", e.Code) }

// DeallocationFailed reports that mach_vm_deallocate refused a request.
type DeallocationFailed struct{ Code int32 }

func (e *DeallocationFailed) Error() string { return errString("vm_deallocate", e.Code) }

// WriteFailed reports that mach_vm_write refused a request.
type WriteFailed struct{ Code int32 }

func (e *WriteFailed) Error() string { return errString("vm_write", e.Code) }

// ProtectFailed reports that mach_vm_protect refused a request.
type ProtectFailed struct{ Code int32 }

func (e *ProtectFailed) Error() string { return errString("vm_protect", e.Code) }

// QueryFailed reports that mach_vm_region could not be read.
type QueryFailed struct{ Code int32 }

func (e *QueryFailed) Error() string { return errString("vm_region", e.Code) }

func errString(call string, code int32) string {
	return call + ": kernel_return " + strconv.Itoa(int(code))
}

// Region describes the kernel's view of one allocation or one segment's
// protection, as returned by RegionProtection.
type Region struct {
	Address   uintptr
	Size      uintptr
	Current   types.VmProtection
	Maximum   types.VmProtection
}
