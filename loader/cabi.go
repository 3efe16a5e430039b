//go:build darwin && arm64 && cgo

package loader

/*
#include <stddef.h>
*/
import "C"

import "unsafe"

//export execvm
func execvm(imagePtr *C.uchar, imageLen C.size_t, namePtr *C.uchar, nameLen C.size_t) C.int {
	if imagePtr == nil {
		return C.int(NullImage.Code())
	}
	img := C.GoBytes(unsafe.Pointer(imagePtr), C.int(imageLen))

	var name string
	if namePtr != nil {
		name = string(C.GoBytes(unsafe.Pointer(namePtr), C.int(nameLen)))
	}

	err := Load(img, name)
	if err == nil {
		return 0 // unreachable on a true success path; control has transferred
	}
	if le, ok := err.(*LoadError); ok {
		return C.int(le.Kind.Code())
	}
	return C.int(ParseFailed.Code())
}
