// Package image parses a 64-bit arm64 Mach-O, narrowing a fat (universal)
// container to its arm64 slice first. It is a read-only, borrowed view
// over the caller's byte buffer — nothing here allocates VM or touches
// the dynamic linker.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/appsworld/macho-loader/types"
)

// MaxImageLen is the hard cap on accepted input length (spec §4.2).
const MaxImageLen = 100_000_000

// ErrEmptyImage and friends are returned by Parse for the malformed-input
// cases spec.md §7 names; the first two are checked before any Mach-O
// parsing is attempted.
var (
	ErrEmptyImage   = errors.New("image: zero length")
	ErrImageTooLarge = fmt.Errorf("image: exceeds %d bytes", MaxImageLen)
	ErrNoSuitableArch = errors.New("image: fat container has no arm64 slice")
	ErrNot64          = errors.New("image: not a 64-bit Mach-O")
)

// ParseError wraps a lower-level decoding failure as spec.md's ParseFailed.
type ParseError struct{ Reason string }

func (e *ParseError) Error() string { return "image: parse failed: " + e.Reason }

// Segment is a parsed LC_SEGMENT_64 plus its sections.
type Segment struct {
	Name     string
	Addr     uint64
	Memsz    uint64
	Offset   uint64
	Filesz   uint64
	Maxprot  types.VmProtection
	Prot     types.VmProtection
	Sections []Section
}

// Section is a parsed section_64.
type Section struct {
	Name      string
	Segname   string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Flags     types.SectionFlag
	Reserved1 uint32
}

// DylibRef is an unresolved dylib dependency: its load-command variant
// and the pathname read out of the string table trailing the command.
type DylibRef struct {
	Cmd  types.LoadCmd
	Path string
}

// Image is the parsed view the rest of the loader operates on.
type Image struct {
	data     []byte
	Header   types.FileHeader
	Segments []Segment

	dylibs          []DylibRef
	symbols         []types.Nlist64
	strtab          []byte
	indirectSymbols []uint32

	entryOffset uint64 // file offset of LC_MAIN's entry point
	hasEntry    bool

	uuid    types.UUID // LC_UUID payload, for log correlation
	hasUUID bool
}

// Dylibs returns the dylib dependencies in load-command order; index+1
// is the Mach-O library ordinal.
func (im *Image) Dylibs() []DylibRef { return im.dylibs }

// Symbols returns the full nlist_64 symbol table.
func (im *Image) Symbols() []types.Nlist64 { return im.symbols }

// IndirectSymbols returns the raw LC_DYSYMTAB indirect symbol table: one
// symbol-table index per indirect-symbol-table slot.
func (im *Image) IndirectSymbols() []uint32 { return im.indirectSymbols }

// SymbolName resolves a symbol's name-table offset into a string.
func (im *Image) SymbolName(n types.Nlist64) string {
	return cString(im.strtab, n.Name)
}

// UUID returns the image's LC_UUID payload, if present.
func (im *Image) UUID() (types.UUID, bool) {
	return im.uuid, im.hasUUID
}

// VMBounds returns the spanning virtual-memory window per spec.md §3:
// min(vmaddr) and max(vmaddr+vmsize) across all segments, __PAGEZERO
// included — its vmaddr=0 pins the window's base and its vmsize is what
// makes the reservation span the real segments at their literal vmaddr.
// Both are zero if the image has no segments.
func (im *Image) VMBounds() (min, max uint64) {
	first := true
	for _, s := range im.Segments {
		if first {
			min, max = s.Addr, s.Addr+s.Memsz
			first = false
			continue
		}
		if s.Addr < min {
			min = s.Addr
		}
		if end := s.Addr + s.Memsz; end > max {
			max = end
		}
	}
	if first {
		return 0, 0
	}
	return min, max
}

// EntryAddr returns the image-relative (not VM-window-relative) virtual
// address of the LC_MAIN entry point, resolved against the segment
// whose file range contains it.
func (im *Image) EntryAddr() (uint64, bool) {
	if !im.hasEntry {
		return 0, false
	}
	for _, s := range im.Segments {
		if im.entryOffset >= s.Offset && im.entryOffset < s.Offset+s.Filesz {
			return s.Addr + (im.entryOffset - s.Offset), true
		}
	}
	return 0, false
}

// Parse decodes a 64-bit arm64 Mach-O, or selects and recurses into the
// arm64 slice of a fat container (exactly once — a fat-inside-fat input
// is a ParseError, not a loop).
func Parse(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > MaxImageLen {
		return nil, ErrImageTooLarge
	}
	return parse(data, false)
}

func parse(data []byte, insideFat bool) (*Image, error) {
	if len(data) < 4 {
		return nil, &ParseError{Reason: "input shorter than a magic number"}
	}
	magic := types.Magic(binary.LittleEndian.Uint32(data))
	if magic == types.MagicFat || types.Magic(binary.BigEndian.Uint32(data)) == types.MagicFat {
		if insideFat {
			return nil, &ParseError{Reason: "nested fat container"}
		}
		slice, err := selectArm64Slice(data)
		if err != nil {
			return nil, err
		}
		return parse(slice, true)
	}
	if magic == types.Magic(0xfeedface) { // MH_MAGIC: a 32-bit Mach-O
		return nil, ErrNot64
	}
	if magic != types.Magic64 {
		return nil, &ParseError{Reason: "unrecognized magic"}
	}
	return parseMachO64(data)
}

// selectArm64Slice reads a big-endian FatHeader/FatArch table and
// narrows data to the byte range of the arm64 entry, if any.
func selectArm64Slice(data []byte) ([]byte, error) {
	if len(data) < types.FatHeaderSize {
		return nil, &ParseError{Reason: "truncated fat header"}
	}
	nArch := binary.BigEndian.Uint32(data[4:8])
	off := types.FatHeaderSize
	for i := uint32(0); i < nArch; i++ {
		if off+types.FatArchSize > len(data) {
			return nil, &ParseError{Reason: "truncated fat arch table"}
		}
		cpu := types.CPU(binary.BigEndian.Uint32(data[off:]))
		arOff := binary.BigEndian.Uint32(data[off+8:])
		arSize := binary.BigEndian.Uint32(data[off+12:])
		off += types.FatArchSize
		if cpu != types.CPUArm64 {
			continue
		}
		end := uint64(arOff) + uint64(arSize)
		if end > uint64(len(data)) {
			return nil, &ParseError{Reason: "fat arch slice out of bounds"}
		}
		return data[arOff:end], nil
	}
	return nil, ErrNoSuitableArch
}

func cString(b []byte, off uint32) string {
	if int(off) >= len(b) {
		return ""
	}
	b = b[off:]
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
