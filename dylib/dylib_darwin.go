//go:build darwin && arm64

package dylib

/*
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import "unsafe"

// Open opens path against the host dynamic linker with the dlopen mode
// flag implies, per FlagFor. A nil handle is only tolerated for
// FlagNoLoad (LC_LOAD_WEAK_DYLIB); any other variant with a nil handle
// is DlopenFailed.
func Open(path string, flag Flag) (Handle, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var mode C.int = C.RTLD_NOW | C.RTLD_LOCAL
	switch flag {
	case FlagNoLoad:
		mode |= C.RTLD_NOLOAD
	case FlagLazy:
		mode = C.RTLD_LAZY | C.RTLD_LOCAL
	}

	h := C.dlopen(cpath, mode)
	if h == nil {
		if flag == FlagNoLoad {
			return 0, nil
		}
		return 0, &DlopenFailed{Path: path}
	}
	return Handle(uintptr(h)), nil
}

// Sym resolves name against handle.
func Sym(h Handle, name string) (uintptr, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	sym := C.dlsym(unsafe.Pointer(uintptr(h)), cname)
	if sym == nil {
		return 0, &DlsymFailed{Name: name}
	}
	return uintptr(sym), nil
}
