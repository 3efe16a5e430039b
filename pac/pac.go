// Package pac signs and authenticates pointers with the arm64
// pointer-authentication instructions pacia/autia, for __auth_got slots.
// On hardware or builds where PAC is unavailable, Sign and Authenticate
// behave as the identity function (spec.md §4.6, §9): the guest code
// running on such hardware never attempts an authenticated branch
// through those slots anyway.
package pac

// Sign returns ptr signed with the A-instruction key, using
// discriminant (conventionally the slot's own final VM address) to bind
// the signature to its storage location.
func Sign(ptr, discriminant uint64) uint64 { return signImpl(ptr, discriminant) }

// Authenticate reverses Sign; it returns the original pointer if
// discriminant matches what Sign was called with, and a value that will
// fault on first use otherwise (the processor embeds the check into the
// pointer's unused high bits rather than returning an error here).
func Authenticate(ptr, discriminant uint64) uint64 { return authImpl(ptr, discriminant) }
