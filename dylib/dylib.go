// Package dylib opens the dynamic libraries an image depends on against
// the host dynamic linker and records them in Mach-O library-ordinal
// order, so the GOT rebinder can index straight into the table.
package dylib

import "github.com/appsworld/macho-loader/types"

// Flag selects which dlopen mode a dylib load-command variant maps to.
type Flag int

const (
	FlagDefault Flag = 0 // bind now, local
	FlagNoLoad  Flag = 1 << iota
	FlagLazy
)

// FlagFor returns the dlopen flag set for a dylib load-command variant,
// per the LC_* table: LOAD_DYLIB/LOAD_UPWARD_DYLIB/REEXPORT_DYLIB bind
// eagerly, LOAD_WEAK_DYLIB never loads a missing library, and
// LAZY_LOAD_DYLIB defers symbol binding.
func FlagFor(cmd types.LoadCmd) Flag {
	switch cmd {
	case types.LC_LOAD_WEAK_DYLIB:
		return FlagNoLoad
	case types.LC_LAZY_LOAD_DYLIB:
		return FlagLazy
	default: // LC_LOAD_DYLIB, LC_LOAD_UPWARD_DYLIB, LC_REEXPORT_DYLIB
		return FlagDefault
	}
}

// Handle is an opaque dynamic-linker handle.
type Handle uintptr

// Entry is one opened (or intentionally unopened, for weak dylibs)
// library, in the order its load command appeared.
type Entry struct {
	Path   string
	Handle Handle
}

// DlopenFailed reports that a required dylib could not be opened.
type DlopenFailed struct{ Path string }

func (e *DlopenFailed) Error() string { return "dlopen failed: " + e.Path }

// DlsymFailed reports that a symbol did not resolve against a handle.
type DlsymFailed struct{ Name string }

func (e *DlsymFailed) Error() string { return "dlsym failed: " + e.Name }

// Table is the ordered dylib list a Room resolves GOT entries against.
// Its Nth entry (0-based) backs Mach-O library ordinal N+1.
type Table []Entry

// At returns the entry for a 1-based Mach-O library ordinal.
func (t Table) At(ordinal uint8) (Entry, bool) {
	if ordinal == 0 || int(ordinal) > len(t) {
		return Entry{}, false
	}
	return t[ordinal-1], true
}
