//go:build darwin && arm64 && cgo

package pac

/*
static unsigned long long pac_sign(unsigned long long ptr, unsigned long long disc) {
	register unsigned long long x0 asm("x0") = ptr;
	register unsigned long long x1 asm("x1") = disc;
	__asm__ volatile("pacia x0, x1" : "+r"(x0) : "r"(x1));
	return x0;
}

static unsigned long long pac_auth(unsigned long long ptr, unsigned long long disc) {
	register unsigned long long x0 asm("x0") = ptr;
	register unsigned long long x1 asm("x1") = disc;
	__asm__ volatile("autia x0, x1" : "+r"(x0) : "r"(x1));
	return x0;
}
*/
import "C"

// On non-arm64e hardware these instructions execute out of the NOP hint
// space (FEAT_PAuth not implemented) and return ptr unchanged, which is
// the identity behavior spec.md §9 permits.
func signImpl(ptr, discriminant uint64) uint64 {
	return uint64(C.pac_sign(C.ulonglong(ptr), C.ulonglong(discriminant)))
}

func authImpl(ptr, discriminant uint64) uint64 {
	return uint64(C.pac_auth(C.ulonglong(ptr), C.ulonglong(discriminant)))
}
