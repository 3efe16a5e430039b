// Package room holds the allocated VM window a parsed image is loaded
// into, and drives the stages that fill it in: dylib table construction,
// segment mapping, GOT rebinding, protection sealing, and the final
// entry jump. Its exported methods mirror the control-flow stages 1:1;
// callers (loader) are expected to invoke them in that fixed order.
package room

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/apex/log"

	"github.com/appsworld/macho-loader/dylib"
	"github.com/appsworld/macho-loader/image"
	"github.com/appsworld/macho-loader/pac"
	"github.com/appsworld/macho-loader/types"
	"github.com/appsworld/macho-loader/vm"
)

const pageZeroPrefix = "__PAGEZERO"
const dataConstPrefix = "__DATA_CONST"
const gotPrefix = "__got"
const authGotPrefix = "__auth_got"

// indirect symbol table sentinel bits (mach-o/loader.h).
const (
	indirectSymbolLocal = 0x80000000
	indirectSymbolAbs   = 0x40000000
)

// BadGotSectionError reports a __got/__auth_got-named section that cannot
// be rebound: its type is neither S_NON_LAZY_SYMBOL_POINTERS nor
// S_LAZY_SYMBOL_POINTERS, or one of its slots indexes past the end of the
// indirect symbol table or the symbol table.
type BadGotSectionError struct{ Segment, Section string }

func (e *BadGotSectionError) Error() string {
	return fmt.Sprintf("room: %s,%s: unsupported GOT section", e.Segment, e.Section)
}

// OrdinalOutOfRangeError reports a library ordinal with no matching
// dylib table entry.
type OrdinalOutOfRangeError struct {
	Symbol  string
	Ordinal uint8
	Table   int
}

func (e *OrdinalOutOfRangeError) Error() string {
	return fmt.Sprintf("room: symbol %s: library ordinal %d exceeds dylib table of size %d",
		e.Symbol, e.Ordinal, e.Table)
}

// ProtectionMismatchError reports that a post-seal readback disagreed
// with the segment's initprot.
type ProtectionMismatchError struct {
	Segment string
	Want    types.VmProtection
	Got     types.VmProtection
}

func (e *ProtectionMismatchError) Error() string {
	return fmt.Sprintf("room: %s: sealed protection %s, kernel reports %s", e.Segment, e.Want, e.Got)
}

// EntryNotExecutableError reports that the entry-point VA's sealed
// protection lacks read+execute, or that the image has no LC_MAIN.
type EntryNotExecutableError struct{ Reason string }

func (e *EntryNotExecutableError) Error() string { return "room: entry not executable: " + e.Reason }

// Room owns one VM window sized to span an image's segments.
type Room struct {
	task vm.Task
	img  *image.Image
	raw  []byte

	base  uintptr
	size  uint64
	minVM uint64

	dylibs dylib.Table

	log log.Interface
}

// New allocates a VM window spanning img's segments, on the loader's own
// task. If img has no segments, size is 0 and no allocation is made.
func New(img *image.Image, raw []byte) (*Room, error) {
	return newWithLogger(img, raw, log.Log)
}

func newWithLogger(img *image.Image, raw []byte, logger log.Interface) (*Room, error) {
	min, max := img.VMBounds()
	size := max - min

	task := vm.Self()
	r := &Room{task: task, img: img, raw: raw, size: size, minVM: min, log: logger}
	if uuid, ok := img.UUID(); ok {
		r.log = r.log.WithField("uuid", uuid.String())
	}

	if size == 0 {
		return r, nil
	}
	base, err := vm.Allocate(task, size)
	if err != nil {
		return nil, err
	}
	r.base = base
	r.log.WithField("size", size).WithField("vm", fmt.Sprintf("%#x", base)).Info("allocated vm window")
	return r, nil
}

// Close releases the Room's VM allocation. Callers must not call this
// past a successful JumpToEntry — control has transferred to the guest
// and the window must persist.
func (r *Room) Close() error {
	if r.size == 0 {
		return nil
	}
	return vm.Deallocate(r.task, r.base, r.size)
}

// toVM maps an image-relative virtual address into this Room's window.
func (r *Room) toVM(imgAddr uint64) uintptr {
	return r.base + uintptr(imgAddr-r.minVM)
}

func isSeg(name, prefix string) bool {
	return strings.HasPrefix(name, prefix)
}

// DylibsLoadIn walks the image's dylib load commands in order and opens
// each against the host dynamic linker, recording (path, handle) in
// ordinal order regardless of outcome for weak dylibs.
func (r *Room) DylibsLoadIn() error {
	for _, d := range r.img.Dylibs() {
		flag := dylib.FlagFor(d.Cmd)
		h, err := dylib.Open(d.Path, flag)
		if err != nil {
			return err
		}
		r.dylibs = append(r.dylibs, dylib.Entry{Path: d.Path, Handle: h})
		r.log.WithField("path", d.Path).WithField("flag", flag).Info("dylib opened")
	}
	return nil
}

// SegmentsLoadIn copies each segment's file bytes into the VM window at
// its vmaddr offset, skipping __PAGEZERO. Trailing vmsize-filesize bytes
// are left zeroed by the allocator.
func (r *Room) SegmentsLoadIn() error {
	for _, seg := range r.img.Segments {
		if isSeg(seg.Name, pageZeroPrefix) {
			continue
		}
		if seg.Filesz == 0 {
			continue
		}
		end := seg.Offset + seg.Filesz
		if end > uint64(len(r.raw)) {
			return fmt.Errorf("room: segment %s: file range out of bounds", seg.Name)
		}
		dst := r.toVM(seg.Addr)
		if err := vm.Write(r.task, dst, r.raw[seg.Offset:end]); err != nil {
			return err
		}
		r.log.WithField("name", seg.Name).WithField("size", seg.Filesz).
			WithField("vm", fmt.Sprintf("%#x", dst)).Info("segment mapped")
	}
	return nil
}

// GotRebind resolves every slot of every __got/__auth_got section inside
// __DATA_CONST, using the reserved1-indexed indirect symbol table to map
// each slot to a symbol table entry (the conformant scheme; see
// DESIGN.md for why positional correspondence is rejected).
func (r *Room) GotRebind() error {
	ind := r.img.IndirectSymbols()
	syms := r.img.Symbols()

	for _, seg := range r.img.Segments {
		if !isSeg(seg.Name, dataConstPrefix) {
			continue
		}
		for _, sec := range seg.Sections {
			if !isSeg(sec.Name, gotPrefix) && !isSeg(sec.Name, authGotPrefix) {
				continue
			}
			authenticated := isSeg(sec.Name, authGotPrefix)

			switch sec.Flags.Type() {
			case types.S_NON_LAZY_SYMBOL_POINTERS, types.S_LAZY_SYMBOL_POINTERS:
			default:
				return &BadGotSectionError{Segment: seg.Name, Section: sec.Name}
			}

			nslots := sec.Size / 8
			for i := uint64(0); i < nslots; i++ {
				indIdx := uint64(sec.Reserved1) + i
				if indIdx >= uint64(len(ind)) {
					return &BadGotSectionError{Segment: seg.Name, Section: sec.Name}
				}
				symIdx := ind[indIdx]
				if symIdx&(indirectSymbolLocal|indirectSymbolAbs) != 0 {
					continue // pre-bound/absolute slot, nothing to resolve
				}
				if int(symIdx) >= len(syms) {
					return &BadGotSectionError{Segment: seg.Name, Section: sec.Name}
				}
				sym := syms[symIdx]
				name := strings.TrimPrefix(r.img.SymbolName(sym), "_")

				ordinal := types.LibraryOrdinal(sym.Desc)
				entry, ok := r.dylibs.At(ordinal)
				if !ok {
					return &OrdinalOutOfRangeError{Symbol: name, Ordinal: ordinal, Table: len(r.dylibs)}
				}

				addr, err := dylib.Sym(entry.Handle, name)
				if err != nil {
					return err
				}

				slotVA := r.toVM(sec.Addr + i*8)
				val := uint64(addr)
				if authenticated {
					val = pac.Sign(val, uint64(slotVA))
				}

				var buf [8]byte
				binary.LittleEndian.PutUint64(buf[:], val)
				if err := vm.Write(r.task, slotVA, buf[:]); err != nil {
					return err
				}
			}
			r.log.WithField("section", sec.Name).WithField("slots", nslots).Info("got rebound")
		}
	}
	return nil
}

// SegmentsProtect seals each segment (other than __PAGEZERO) with its
// initprot, lifting maxprot first per spec: the kernel refuses a
// current-protection set that exceeds the prevailing max.
func (r *Room) SegmentsProtect() error {
	for _, seg := range r.img.Segments {
		if isSeg(seg.Name, pageZeroPrefix) {
			continue
		}
		addr := r.toVM(seg.Addr)
		if err := vm.Protect(r.task, addr, seg.Memsz, true, seg.Prot); err != nil {
			return err
		}
		if err := vm.Protect(r.task, addr, seg.Memsz, false, seg.Prot); err != nil {
			return err
		}
		region, err := vm.RegionProtection(r.task, addr)
		if err != nil {
			return err
		}
		if region.Current != seg.Prot {
			return &ProtectionMismatchError{Segment: seg.Name, Want: seg.Prot, Got: region.Current}
		}
		r.log.WithField("name", seg.Name).WithField("prot", seg.Prot.String()).Info("segment sealed")
	}
	return nil
}

// EntryVA returns the VM address JumpToEntry would transfer control to,
// for callers that want to validate it without jumping (tests).
func (r *Room) EntryVA() (uintptr, error) {
	addr, ok := r.img.EntryAddr()
	if !ok {
		return 0, &EntryNotExecutableError{Reason: "image has no LC_MAIN"}
	}
	va := r.toVM(addr)
	region, err := vm.RegionProtection(r.task, va)
	if err != nil {
		return 0, err
	}
	if !region.Current.Read() || !region.Current.Execute() {
		return 0, &EntryNotExecutableError{Reason: "sealed region lacks read+execute"}
	}
	return va, nil
}

// JumpToEntry builds argv/envp from progName and the host environment,
// and transfers control to the entry point. It does not return on
// success; the Room is intentionally never Closed past this call.
func (r *Room) JumpToEntry(progName string) error {
	va, err := r.EntryVA()
	if err != nil {
		return err
	}
	r.log.WithField("vm", fmt.Sprintf("%#x", va)).Info("jumping to entry point")
	return jump(va, progName)
}
