package room

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/apex/log"

	"github.com/appsworld/macho-loader/image"
	"github.com/appsworld/macho-loader/types"
)

// buildImageWithGotSection assembles a 64-bit Mach-O with a __DATA_CONST
// segment holding one section named __got (or __auth_got), with the
// given section flags and reserved1 = 0, and optionally a dysymtab/symtab so
// GotRebind has an indirect symbol table to walk.
func buildImageWithGotSection(t *testing.T, sectionName string, flags uint32, withIndirectTable bool) []byte {
	t.Helper()

	var b bytes.Buffer
	put16 := func(v uint16) { binary.Write(&b, binary.LittleEndian, v) }
	put32 := func(v uint32) { binary.Write(&b, binary.LittleEndian, v) }
	put64 := func(v uint64) { binary.Write(&b, binary.LittleEndian, v) }
	putName := func(s string) {
		var name [16]byte
		copy(name[:], s)
		b.Write(name[:])
	}

	segCmdSize := uint32(72 + 80)
	var ncmds uint32 = 1
	var extra uint32

	if withIndirectTable {
		ncmds += 2 // LC_SYMTAB + LC_DYSYMTAB
		extra = 24 + 80
	}

	put32(uint32(types.Magic64))
	put32(uint32(types.CPUArm64))
	put32(0)
	put32(uint32(types.MH_EXECUTE))
	put32(ncmds)
	put32(segCmdSize + extra)
	put32(0)
	put32(0)

	// LC_SEGMENT_64 __DATA_CONST with one section "sectionName"
	put32(uint32(types.LC_SEGMENT_64))
	put32(segCmdSize)
	putName("__DATA_CONST")
	put64(0x4000) // vmaddr
	put64(4096)   // vmsize
	put64(0)      // fileoff
	put64(4096)   // filesize
	put32(3)      // maxprot rw-
	put32(3)      // initprot rw-
	put32(1)      // nsects
	put32(0)      // flags

	putName(sectionName)
	putName("__DATA_CONST")
	put64(0x4000) // addr
	put64(8)      // size: one 8-byte slot
	put32(0)      // offset
	put32(0)      // align
	put32(0)      // reloff
	put32(0)      // nreloc
	put32(flags)  // flags (section type)
	put32(0)      // reserved1: indirect symbol table start index
	put32(0)      // reserved2
	put32(0)      // reserved3

	if withIndirectTable {
		// LC_SYMTAB: one undefined symbol "_foo" with library ordinal 1
		strtab := []byte{0, '_', 'f', 'o', 'o', 0}
		put32(uint32(types.LC_SYMTAB))
		put32(24)
		symtabPatchPos := b.Len()
		put32(0) // symoff placeholder
		put32(1) // nsyms
		put32(0) // stroff placeholder
		put32(uint32(len(strtab)))

		// LC_DYSYMTAB: indirect symbol table with one entry -> symbol index 0
		put32(uint32(types.LC_DYSYMTAB))
		put32(80)
		for i := 0; i < 12; i++ {
			put32(0)
		}
		dysymPatchPos := b.Len()
		put32(0) // indirectsymoff placeholder
		put32(1) // nindirectsyms
		put32(0)
		put32(0)
		put32(0)
		put32(0)

		symOffAbs := uint32(b.Len())
		put32(1)        // n_strx -> "_foo"
		b.WriteByte(0)  // n_type = N_UNDF
		b.WriteByte(0)  // n_sect
		put16(1 << 8)   // n_desc: library ordinal 1
		put64(0)        // n_value

		strOffAbs := uint32(b.Len())
		b.Write(strtab)

		indOffAbs := uint32(b.Len())
		put32(0) // indirect symbol table: slot 0 -> symbol index 0

		out := b.Bytes()
		binary.LittleEndian.PutUint32(out[symtabPatchPos:], symOffAbs)
		binary.LittleEndian.PutUint32(out[symtabPatchPos+8:], strOffAbs)
		binary.LittleEndian.PutUint32(out[dysymPatchPos:], indOffAbs)
		return out
	}

	return b.Bytes()
}

func TestGotRebindRejectsBadSectionType(t *testing.T) {
	data := buildImageWithGotSection(t, "__got", 0x0 /* S_REGULAR, not a pointer section */, false)
	im, err := image.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, err := newWithLogger(im, data, log.Log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = r.GotRebind()
	if _, ok := err.(*BadGotSectionError); !ok {
		t.Fatalf("GotRebind() = %v, want *BadGotSectionError", err)
	}
}

func TestGotRebindRejectsOutOfRangeOrdinal(t *testing.T) {
	data := buildImageWithGotSection(t, "__got", uint32(types.S_NON_LAZY_SYMBOL_POINTERS), true)
	im, err := image.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, err := newWithLogger(im, data, log.Log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// No dylibs were loaded, so library ordinal 1 has nothing to index.
	err = r.GotRebind()
	if _, ok := err.(*OrdinalOutOfRangeError); !ok {
		t.Fatalf("GotRebind() = %v, want *OrdinalOutOfRangeError", err)
	}
}

func TestZeroSegmentImageNoAllocation(t *testing.T) {
	// A header with zero load commands: no segments, so Room.New must not
	// attempt a VM allocation (and so must succeed even where vm.Allocate
	// itself is unsupported).
	var b bytes.Buffer
	put32 := func(v uint32) { binary.Write(&b, binary.LittleEndian, v) }
	put32(uint32(types.Magic64))
	put32(uint32(types.CPUArm64))
	put32(0)
	put32(uint32(types.MH_EXECUTE))
	put32(0) // ncmds
	put32(0) // sizeofcmds
	put32(0)
	put32(0)

	im, err := image.Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, err := newWithLogger(im, b.Bytes(), log.Log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.DylibsLoadIn(); err != nil {
		t.Fatalf("DylibsLoadIn: %v", err)
	}
	if err := r.SegmentsLoadIn(); err != nil {
		t.Fatalf("SegmentsLoadIn: %v", err)
	}
	if err := r.GotRebind(); err != nil {
		t.Fatalf("GotRebind: %v", err)
	}
	if err := r.SegmentsProtect(); err != nil {
		t.Fatalf("SegmentsProtect: %v", err)
	}
	if _, err := r.EntryVA(); err == nil {
		t.Fatal("EntryVA: want error, image has no LC_MAIN")
	}
}
