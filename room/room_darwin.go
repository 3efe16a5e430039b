//go:build darwin && arm64

package room

/*
#include <stdlib.h>
#include <unistd.h>

extern char **environ;

typedef void (*entry_fn)(int argc, char **argv, char **envp);

static void call_entry(void *fn, int argc, char **argv, char **envp) {
	((entry_fn)fn)(argc, argv, envp);
}
*/
import "C"

import (
	"os"
	"unsafe"
)

// jump builds (argc, argv, envp) per spec.md §4.8 and performs the
// one-way call into va. argv[0] is progName; argv[1:] are the host
// process's own environment strings (not argv passthrough — this
// mirrors the loader being reborn as the guest, inheriting its
// environment as its argument list per the distilled source's original
// behavior), envp is the real process environment pointer.
func jump(va uintptr, progName string) error {
	env := os.Environ()

	argv := make([]*C.char, 0, len(env)+2)
	cProg := C.CString(progName)
	defer C.free(unsafe.Pointer(cProg))
	argv = append(argv, cProg)

	for _, e := range env {
		c := C.CString(e)
		defer C.free(unsafe.Pointer(c))
		argv = append(argv, c)
	}
	argv = append(argv, nil)

	C.call_entry(unsafe.Pointer(va), 1, (**C.char)(unsafe.Pointer(&argv[0])), C.environ)

	// The guest does not return in the success case. If it does, spec.md
	// §4.8 says terminate the loader process with status 0.
	os.Exit(0)
	return nil
}
