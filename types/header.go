// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package types holds the on-disk Mach-O structures the loader reads:
// file and fat headers, load commands, segments, sections and symbol
// table entries. Trimmed to the 64-bit arm64 subset spec.md names; there
// is no write-side ("Put"/"Write") half since this module never produces
// Mach-O, only maps it.
package types

import "fmt"

// A FileHeader represents a 64-bit Mach-O file header.
type FileHeader struct {
	Magic        Magic
	CPU          CPU
	SubCPU       CPUSubtype
	Type         HeaderFileType
	NCommands    uint32
	SizeCommands uint32
	Flags        HeaderFlag
	Reserved     uint32
}

const FileHeaderSize64 = 8 * 4

func (h FileHeader) String() string {
	return fmt.Sprintf("Magic=%s Type=%s CPU=%s Commands=%d (size %d) Flags=%#x",
		h.Magic, h.Type, h.CPU, h.NCommands, h.SizeCommands, uint32(h.Flags))
}

type Magic uint32

const (
	Magic64  Magic = 0xfeedfacf
	MagicFat Magic = 0xcafebabe
)

func (m Magic) String() string {
	switch m {
	case Magic64:
		return "64-bit MachO"
	case MagicFat:
		return "Fat MachO"
	default:
		return fmt.Sprintf("0x%x", uint32(m))
	}
}

// A HeaderFileType is the Mach-O file type, e.g. an object file, executable, or dynamic library.
type HeaderFileType uint32

const (
	MH_EXECUTE HeaderFileType = 0x2 /* demand paged executable file */
	MH_DYLIB   HeaderFileType = 0x6 /* dynamically bound shared library */
	MH_BUNDLE  HeaderFileType = 0x8 /* dynamically bound bundle file */
)

func (t HeaderFileType) String() string {
	switch t {
	case MH_EXECUTE:
		return "EXECUTE"
	case MH_DYLIB:
		return "DYLIB"
	case MH_BUNDLE:
		return "BUNDLE"
	default:
		return fmt.Sprintf("0x%x", uint32(t))
	}
}

// HeaderFlag holds the mach_header_64.flags bitfield. The loader does not
// branch on any of these bits (no two-level namespace resolution, no
// prebinding); it is kept only because FileHeader.Flags is part of the
// wire format and callers may want to inspect it.
type HeaderFlag uint32

// FatHeader is the big-endian header of a fat (universal) Mach-O
// container: a magic followed by a count of FatArch slice descriptors.
type FatHeader struct {
	Magic Magic
	NArch uint32
}

const FatHeaderSize = 2 * 4

// A FatArch describes one architecture slice inside a fat container.
type FatArch struct {
	CPU    CPU
	SubCPU CPUSubtype
	Offset uint32
	Size   uint32
	Align  uint32
}

const FatArchSize = 5 * 4
