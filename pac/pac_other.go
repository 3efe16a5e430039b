//go:build !(darwin && arm64 && cgo)

package pac

// Off arm64e-capable Darwin, signing/authenticating is the identity
// function: the guest will not attempt an authenticated branch through
// an unsigned __auth_got slot on hardware that cannot check one.
func signImpl(ptr, discriminant uint64) uint64 { return ptr }

func authImpl(ptr, discriminant uint64) uint64 { return ptr }
