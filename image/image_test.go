package image

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/appsworld/macho-loader/types"
)

// buildMinimalMachO64 assembles a tiny, syntactically valid 64-bit
// Mach-O: a mach_header_64, one LC_SEGMENT_64 named __TEXT with one
// section, and an LC_MAIN pointing at the start of that segment's file
// range.
func buildMinimalMachO64(t *testing.T) []byte {
	t.Helper()

	var b bytes.Buffer
	put32 := func(v uint32) { binary.Write(&b, binary.LittleEndian, v) }
	put64 := func(v uint64) { binary.Write(&b, binary.LittleEndian, v) }
	putName := func(s string) {
		var name [16]byte
		copy(name[:], s)
		b.Write(name[:])
	}

	const ncmds = 2
	segCmdSize := uint32(72 + 80) // header + one section_64
	mainCmdSize := uint32(24)

	put32(uint32(types.Magic64))
	put32(uint32(types.CPUArm64))
	put32(0) // subtype
	put32(uint32(types.MH_EXECUTE))
	put32(ncmds)
	put32(segCmdSize + mainCmdSize)
	put32(0) // flags
	put32(0) // reserved

	// LC_SEGMENT_64 __TEXT
	put32(uint32(types.LC_SEGMENT_64))
	put32(segCmdSize)
	putName("__TEXT")
	put64(0)    // vmaddr
	put64(4096) // vmsize
	put64(0)    // fileoff
	put64(4096) // filesize
	put32(uint32(5)) // maxprot r-x
	put32(uint32(5)) // initprot r-x
	put32(1)          // nsects
	put32(0)          // flags

	// section_64 __text
	putName("__text")
	putName("__TEXT")
	put64(0)    // addr
	put64(4096) // size
	put32(0)    // offset
	put32(0)    // align
	put32(0)    // reloff
	put32(0)    // nreloc
	put32(0)    // flags
	put32(0)    // reserved1
	put32(0)    // reserved2
	put32(0)    // reserved3

	// LC_MAIN
	put32(uint32(types.LC_MAIN))
	put32(mainCmdSize)
	put64(0) // entryoff
	put64(0) // stacksize

	return b.Bytes()
}

func TestParseMinimalMachO(t *testing.T) {
	im, err := Parse(buildMinimalMachO64(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(im.Segments) != 1 || im.Segments[0].Name != "__TEXT" {
		t.Fatalf("segments = %+v", im.Segments)
	}
	min, max := im.VMBounds()
	if min != 0 || max != 4096 {
		t.Fatalf("VMBounds() = %d, %d, want 0, 4096", min, max)
	}
	entry, ok := im.EntryAddr()
	if !ok || entry != 0 {
		t.Fatalf("EntryAddr() = %d, %v, want 0, true", entry, ok)
	}
}

func TestParseSegmentAndSectionFields(t *testing.T) {
	im, err := Parse(buildMinimalMachO64(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []Segment{{
		Name:    "__TEXT",
		Addr:    0,
		Memsz:   4096,
		Offset:  0,
		Filesz:  4096,
		Maxprot: 5,
		Prot:    5,
		Sections: []Section{{
			Name:    "__text",
			Segname: "__TEXT",
			Addr:    0,
			Size:    4096,
		}},
	}}

	if diff := cmp.Diff(want, im.Segments, cmpopts.IgnoreFields(Section{}, "Offset", "Flags", "Reserved1")); diff != "" {
		t.Fatalf("Segments mismatch (-want +got):\n%s", diff)
	}
}

// buildMachO64WithPageZeroAndUUID assembles a __PAGEZERO segment (huge
// vmsize, vmaddr 0) ahead of a __TEXT segment mapped well above it, plus
// an LC_UUID command, mirroring a real arm64 executable's layout.
func buildMachO64WithPageZeroAndUUID(t *testing.T) []byte {
	t.Helper()

	var b bytes.Buffer
	put32 := func(v uint32) { binary.Write(&b, binary.LittleEndian, v) }
	put64 := func(v uint64) { binary.Write(&b, binary.LittleEndian, v) }
	putName := func(s string) {
		var name [16]byte
		copy(name[:], s)
		b.Write(name[:])
	}

	const ncmds = 3
	pageZeroCmdSize := uint32(72)
	textCmdSize := uint32(72)
	uuidCmdSize := uint32(24)

	put32(uint32(types.Magic64))
	put32(uint32(types.CPUArm64))
	put32(0)
	put32(uint32(types.MH_EXECUTE))
	put32(ncmds)
	put32(pageZeroCmdSize + textCmdSize + uuidCmdSize)
	put32(0)
	put32(0)

	// LC_SEGMENT_64 __PAGEZERO: vmaddr 0, huge vmsize, no file content.
	put32(uint32(types.LC_SEGMENT_64))
	put32(pageZeroCmdSize)
	putName("__PAGEZERO")
	put64(0)                  // vmaddr
	put64(0x100000000)        // vmsize
	put64(0)                  // fileoff
	put64(0)                  // filesize
	put32(0)                  // maxprot ---
	put32(0)                  // initprot ---
	put32(0)                  // nsects
	put32(0)                  // flags

	// LC_SEGMENT_64 __TEXT, mapped above __PAGEZERO.
	put32(uint32(types.LC_SEGMENT_64))
	put32(textCmdSize)
	putName("__TEXT")
	put64(0x100000000) // vmaddr
	put64(0x4000)       // vmsize
	put64(0)            // fileoff
	put64(0x4000)       // filesize
	put32(5)            // maxprot r-x
	put32(5)            // initprot r-x
	put32(0)            // nsects
	put32(0)            // flags

	// LC_UUID
	put32(uint32(types.LC_UUID))
	put32(uuidCmdSize)
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i + 1)
	}
	b.Write(uuid[:])

	return b.Bytes()
}

func TestVMBoundsIncludesPageZero(t *testing.T) {
	im, err := Parse(buildMachO64WithPageZeroAndUUID(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	min, max := im.VMBounds()
	if min != 0 || max != 0x100000000+0x4000 {
		t.Fatalf("VMBounds() = %#x, %#x, want 0, %#x", min, max, uint64(0x100000000+0x4000))
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	im, err := Parse(buildMachO64WithPageZeroAndUUID(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	uuid, ok := im.UUID()
	if !ok {
		t.Fatal("UUID() ok = false, want true")
	}
	want := "01020304-0506-0708-090A-0B0C0D0E0F10"
	if got := uuid.String(); got != want {
		t.Fatalf("UUID().String() = %q, want %q", got, want)
	}
}

func TestParseFatArm64Slice(t *testing.T) {
	inner := buildMinimalMachO64(t)

	var b bytes.Buffer
	put32 := func(v uint32) { binary.Write(&b, binary.BigEndian, v) }

	put32(uint32(types.MagicFat))
	put32(2) // nfat_arch

	bogusOff := uint32(types.FatHeaderSize + 2*types.FatArchSize)
	put32(uint32(types.CPUAmd64)) // arch 0: x86_64, ignored
	put32(0)
	put32(bogusOff)
	put32(0) // size 0, never read
	put32(0x1000)

	realOff := bogusOff
	put32(uint32(types.CPUArm64)) // arch 1: arm64, selected
	put32(0)
	put32(realOff)
	put32(uint32(len(inner)))
	put32(0x1000)

	b.Write(inner)

	im, err := Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse(fat): %v", err)
	}
	if len(im.Segments) != 1 {
		t.Fatalf("fat-sliced image: segments = %+v", im.Segments)
	}
}

func TestParseRejectsEmptyAndOversize(t *testing.T) {
	if _, err := Parse(nil); err != ErrEmptyImage {
		t.Fatalf("Parse(nil) = %v, want ErrEmptyImage", err)
	}
	if _, err := Parse(make([]byte, MaxImageLen+1)); err != ErrImageTooLarge {
		t.Fatalf("Parse(oversize) = %v, want ErrImageTooLarge", err)
	}
}

func TestParseFatWithNoArm64Slice(t *testing.T) {
	var b bytes.Buffer
	put32 := func(v uint32) { binary.Write(&b, binary.BigEndian, v) }
	put32(uint32(types.MagicFat))
	put32(1)
	put32(uint32(types.CPUAmd64))
	put32(0)
	put32(uint32(types.FatHeaderSize + types.FatArchSize))
	put32(4)
	put32(0x1000)
	b.Write([]byte{1, 2, 3, 4})

	if _, err := Parse(b.Bytes()); err != ErrNoSuitableArch {
		t.Fatalf("Parse = %v, want ErrNoSuitableArch", err)
	}
}
