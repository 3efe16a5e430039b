// Package loader orchestrates the full load pipeline — parse, allocate,
// link, map, rebind, seal, jump — and translates every stage's errors
// into the taxonomy spec.md's C-ABI execvm(...) -> i32 return value
// describes, while exposing a Go-native error-returning API.
package loader

import (
	"errors"
	"fmt"

	"github.com/apex/log"

	"github.com/appsworld/macho-loader/dylib"
	"github.com/appsworld/macho-loader/image"
	"github.com/appsworld/macho-loader/room"
	"github.com/appsworld/macho-loader/vm"
)

// Kind is the error taxonomy from spec.md §7.
type Kind int

const (
	NullImage Kind = iota
	EmptyImage
	ImageTooLarge
	ParseFailed
	NoSuitableArch
	Not64
	VmAllocFailed
	VmWriteFailed
	VmProtectFailed
	VmQueryFailed
	DlopenFailed
	DlsymFailed
	BadGotSection
	SymbolOrdinalOutOfRange
	ProtectionMismatch
	EntryNotExecutable
)

var kindNames = [...]string{
	"NullImage", "EmptyImage", "ImageTooLarge", "ParseFailed", "NoSuitableArch", "Not64",
	"VmAllocFailed", "VmWriteFailed", "VmProtectFailed", "VmQueryFailed",
	"DlopenFailed", "DlsymFailed", "BadGotSection", "SymbolOrdinalOutOfRange",
	"ProtectionMismatch", "EntryNotExecutable",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// Code returns the negative integer execvm(...) would return for this
// Kind, for callers linking this module as a C archive via cabi.go.
func (k Kind) Code() int32 { return -(int32(k) + 1) }

// LoadError is the error type every Load failure path returns.
type LoadError struct {
	Kind   Kind
	Stage  string
	Detail string // offending address or name, when known
	Err    error  // underlying kernel/libc/parse error, if any
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("loader: %s: %s", e.Stage, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load runs parse → Room.New → DylibsLoadIn → SegmentsLoadIn →
// GotRebind → SegmentsProtect → JumpToEntry. It returns on any
// stage failure before the jump; on success it does not return, because
// control has transferred into the guest (spec.md §4.8, §5).
func Load(imageBytes []byte, progName string) (err error) {
	if imageBytes == nil {
		return &LoadError{Kind: NullImage, Stage: "input validation"}
	}
	if len(imageBytes) == 0 {
		return &LoadError{Kind: EmptyImage, Stage: "input validation"}
	}
	if len(imageBytes) > image.MaxImageLen {
		return &LoadError{Kind: ImageTooLarge, Stage: "input validation"}
	}

	im, perr := image.Parse(imageBytes)
	if perr != nil {
		return &LoadError{Kind: classifyParseError(perr), Stage: "parse", Err: perr}
	}

	r, rerr := room.New(im, imageBytes)
	if rerr != nil {
		return &LoadError{Kind: VmAllocFailed, Stage: "room.new", Err: rerr}
	}

	// The Room's VM allocation is released on any failure path taken
	// before the jump. On success, JumpToEntry either never returns (the
	// guest is now running) or os.Exit()s; this defer then never runs,
	// which is the intended "suppress release past the jump" behavior.
	defer func() {
		if err != nil {
			if cerr := r.Close(); cerr != nil {
				log.Log.WithField("stage", "cleanup").WithError(cerr).Warn("vm deallocate failed during error unwind")
			}
		}
	}()

	if err = r.DylibsLoadIn(); err != nil {
		return &LoadError{Kind: classifyDylibError(err), Stage: "dylibs_load_in", Err: err}
	}
	if err = r.SegmentsLoadIn(); err != nil {
		return &LoadError{Kind: classifyVmError(err), Stage: "segments_load_in", Err: err}
	}
	if err = r.GotRebind(); err != nil {
		return &LoadError{Kind: classifyGotError(err), Stage: "got_rebind", Err: err}
	}
	if err = r.SegmentsProtect(); err != nil {
		return &LoadError{Kind: classifyProtectError(err), Stage: "segments_protect", Err: err}
	}

	err = r.JumpToEntry(progName)
	if err != nil {
		return &LoadError{Kind: EntryNotExecutable, Stage: "jump_to_entry", Err: err}
	}
	return nil
}

func classifyParseError(err error) Kind {
	switch {
	case errors.Is(err, image.ErrNoSuitableArch):
		return NoSuitableArch
	case errors.Is(err, image.ErrNot64):
		return Not64
	default:
		return ParseFailed
	}
}

func classifyVmError(err error) Kind {
	switch err.(type) {
	case *vm.AllocationFailed:
		return VmAllocFailed
	case *vm.DeallocationFailed:
		return VmAllocFailed
	case *vm.WriteFailed:
		return VmWriteFailed
	case *vm.ProtectFailed:
		return VmProtectFailed
	case *vm.QueryFailed:
		return VmQueryFailed
	default:
		return VmWriteFailed
	}
}

func classifyDylibError(err error) Kind {
	switch err.(type) {
	case *dylib.DlopenFailed:
		return DlopenFailed
	case *dylib.DlsymFailed:
		return DlsymFailed
	default:
		return DlopenFailed
	}
}

func classifyGotError(err error) Kind {
	switch err.(type) {
	case *room.BadGotSectionError:
		return BadGotSection
	case *room.OrdinalOutOfRangeError:
		return SymbolOrdinalOutOfRange
	case *dylib.DlsymFailed:
		return DlsymFailed
	case *vm.WriteFailed:
		return VmWriteFailed
	default:
		return BadGotSection
	}
}

func classifyProtectError(err error) Kind {
	switch err.(type) {
	case *room.ProtectionMismatchError:
		return ProtectionMismatch
	case *vm.ProtectFailed:
		return VmProtectFailed
	case *vm.QueryFailed:
		return VmQueryFailed
	default:
		return ProtectionMismatch
	}
}
