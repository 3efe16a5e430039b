//go:build darwin && arm64

package vm

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>

static kern_return_t do_allocate(vm_map_t task, mach_vm_address_t *addr, mach_vm_size_t size) {
	return mach_vm_allocate(task, addr, size, VM_FLAGS_ANYWHERE);
}

static kern_return_t do_deallocate(vm_map_t task, mach_vm_address_t addr, mach_vm_size_t size) {
	return mach_vm_deallocate(task, addr, size);
}

static kern_return_t do_write(vm_map_t task, mach_vm_address_t dst, vm_offset_t src, mach_msg_type_number_t n) {
	return mach_vm_write(task, dst, src, n);
}

static kern_return_t do_protect(vm_map_t task, mach_vm_address_t addr, mach_vm_size_t size, boolean_t setMax, vm_prot_t prot) {
	return mach_vm_protect(task, addr, size, setMax, prot);
}

static kern_return_t do_region(vm_map_t task, mach_vm_address_t *addr, mach_vm_size_t *size,
	vm_prot_t *cur, vm_prot_t *max) {
	vm_region_basic_info_data_64_t info;
	mach_msg_type_number_t infoCnt = VM_REGION_BASIC_INFO_COUNT_64;
	mach_port_t objName;
	kern_return_t kr = mach_vm_region(task, addr, size, VM_REGION_BASIC_INFO_64,
		(vm_region_info_t)&info, &infoCnt, &objName);
	if (kr == KERN_SUCCESS) {
		*cur = info.protection;
		*max = info.max_protection;
	}
	return kr;
}
*/
import "C"

import (
	"unsafe"

	"github.com/appsworld/macho-loader/types"
)

// Self returns the loader's own task port.
func Self() Task { return Task(C.mach_task_self()) }

// Allocate reserves size bytes anywhere in the task's address space.
func Allocate(t Task, size uint64) (uintptr, error) {
	var addr C.mach_vm_address_t
	kr := C.do_allocate(C.vm_map_t(t), &addr, C.mach_vm_size_t(size))
	if kr != C.KERN_SUCCESS {
		return 0, &AllocationFailed{Code: int32(kr)}
	}
	return uintptr(addr), nil
}

// Deallocate releases a prior allocation.
func Deallocate(t Task, addr uintptr, size uint64) error {
	kr := C.do_deallocate(C.vm_map_t(t), C.mach_vm_address_t(addr), C.mach_vm_size_t(size))
	if kr != C.KERN_SUCCESS {
		return &DeallocationFailed{Code: int32(kr)}
	}
	return nil
}

// Write copies src into dst within the target task.
func Write(t Task, dst uintptr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	kr := C.do_write(C.vm_map_t(t), C.mach_vm_address_t(dst),
		C.vm_offset_t(uintptr(unsafe.Pointer(&src[0]))), C.mach_msg_type_number_t(len(src)))
	if kr != C.KERN_SUCCESS {
		return &WriteFailed{Code: int32(kr)}
	}
	return nil
}

// Protect sets either the maximum (setMax true) or current (setMax
// false) protection on the given range.
func Protect(t Task, addr uintptr, size uint64, setMax bool, prot types.VmProtection) error {
	kr := C.do_protect(C.vm_map_t(t), C.mach_vm_address_t(addr), C.mach_vm_size_t(size),
		boolToC(setMax), C.vm_prot_t(prot))
	if kr != C.KERN_SUCCESS {
		return &ProtectFailed{Code: int32(kr)}
	}
	return nil
}

// RegionProtection queries the kernel's view of protection for the page
// containing addr.
func RegionProtection(t Task, addr uintptr) (Region, error) {
	cAddr := C.mach_vm_address_t(addr)
	var cSize C.mach_vm_size_t
	var cur, max C.vm_prot_t
	kr := C.do_region(C.vm_map_t(t), &cAddr, &cSize, &cur, &max)
	if kr != C.KERN_SUCCESS {
		return Region{}, &QueryFailed{Code: int32(kr)}
	}
	return Region{
		Address: uintptr(cAddr),
		Size:    uintptr(cSize),
		Current: types.VmProtection(cur),
		Maximum: types.VmProtection(max),
	}, nil
}

func boolToC(b bool) C.boolean_t {
	if b {
		return 1
	}
	return 0
}
