package image

import (
	"encoding/binary"

	"github.com/appsworld/macho-loader/types"
)

const (
	loadCmdHeaderSize = 8  // cmd + cmdsize
	segment64HdrSize  = 64 // through nsects+flags, excluding the 8-byte cmd/cmdsize already counted below
	section64Size     = 80
)

func parseMachO64(data []byte) (*Image, error) {
	if len(data) < types.FileHeaderSize64 {
		return nil, &ParseError{Reason: "truncated file header"}
	}

	hdr := types.FileHeader{
		Magic:        types.Magic(binary.LittleEndian.Uint32(data[0:])),
		CPU:          types.CPU(binary.LittleEndian.Uint32(data[4:])),
		SubCPU:       types.CPUSubtype(binary.LittleEndian.Uint32(data[8:])),
		Type:         types.HeaderFileType(binary.LittleEndian.Uint32(data[12:])),
		NCommands:    binary.LittleEndian.Uint32(data[16:]),
		SizeCommands: binary.LittleEndian.Uint32(data[20:]),
		Flags:        types.HeaderFlag(binary.LittleEndian.Uint32(data[24:])),
		Reserved:     binary.LittleEndian.Uint32(data[28:]),
	}
	if hdr.Magic != types.Magic64 {
		return nil, ErrNot64
	}

	im := &Image{data: data, Header: hdr}

	var symtab types.SymtabCmd
	var dysymtab types.DysymtabCmd
	haveSymtab, haveDysymtab := false, false

	off := types.FileHeaderSize64
	for i := uint32(0); i < hdr.NCommands; i++ {
		if off+loadCmdHeaderSize > len(data) {
			return nil, &ParseError{Reason: "load command table truncated"}
		}
		cmd := types.LoadCmd(binary.LittleEndian.Uint32(data[off:]))
		size := binary.LittleEndian.Uint32(data[off+4:])
		if size < loadCmdHeaderSize || off+int(size) > len(data) {
			return nil, &ParseError{Reason: "load command size out of bounds"}
		}
		body := data[off : off+int(size)]

		switch cmd {
		case types.LC_SEGMENT_64:
			seg, err := parseSegment64(body)
			if err != nil {
				return nil, err
			}
			im.Segments = append(im.Segments, seg)

		case types.LC_LOAD_DYLIB, types.LC_LOAD_WEAK_DYLIB, types.LC_LOAD_UPWARD_DYLIB,
			types.LC_REEXPORT_DYLIB, types.LC_LAZY_LOAD_DYLIB:
			nameOff := binary.LittleEndian.Uint32(body[8:])
			im.dylibs = append(im.dylibs, DylibRef{Cmd: cmd, Path: cString(body, nameOff)})

		case types.LC_SYMTAB:
			if len(body) < 24 {
				return nil, &ParseError{Reason: "truncated LC_SYMTAB"}
			}
			symtab = types.SymtabCmd{
				Symoff:  binary.LittleEndian.Uint32(body[8:]),
				Nsyms:   binary.LittleEndian.Uint32(body[12:]),
				Stroff:  binary.LittleEndian.Uint32(body[16:]),
				Strsize: binary.LittleEndian.Uint32(body[20:]),
			}
			haveSymtab = true

		case types.LC_DYSYMTAB:
			if len(body) < 80 {
				return nil, &ParseError{Reason: "truncated LC_DYSYMTAB"}
			}
			dysymtab = types.DysymtabCmd{
				Indirectsymoff: binary.LittleEndian.Uint32(body[8+12*4:]),
				Nindirectsyms:  binary.LittleEndian.Uint32(body[8+13*4:]),
			}
			haveDysymtab = true

		case types.LC_MAIN:
			if len(body) < 24 {
				return nil, &ParseError{Reason: "truncated LC_MAIN"}
			}
			im.entryOffset = binary.LittleEndian.Uint64(body[8:])
			im.hasEntry = true

		case types.LC_UUID:
			if len(body) < 8+16 {
				return nil, &ParseError{Reason: "truncated LC_UUID"}
			}
			copy(im.uuid[:], body[8:24])
			im.hasUUID = true
		}

		off += int(size)
	}

	if haveSymtab {
		syms, strtab, err := readSymtab(data, symtab)
		if err != nil {
			return nil, err
		}
		im.symbols = syms
		im.strtab = strtab
	}
	if haveDysymtab {
		ind, err := readIndirectSymbols(data, dysymtab)
		if err != nil {
			return nil, err
		}
		im.indirectSymbols = ind
	}

	return im, nil
}

func parseSegment64(body []byte) (Segment, error) {
	if len(body) < 8+segment64HdrSize {
		return Segment{}, &ParseError{Reason: "truncated LC_SEGMENT_64"}
	}
	name := cName(body[8:24])
	seg := Segment{
		Name:    name,
		Addr:    binary.LittleEndian.Uint64(body[24:]),
		Memsz:   binary.LittleEndian.Uint64(body[32:]),
		Offset:  binary.LittleEndian.Uint64(body[40:]),
		Filesz:  binary.LittleEndian.Uint64(body[48:]),
		Maxprot: types.VmProtection(int32(binary.LittleEndian.Uint32(body[56:]))),
		Prot:    types.VmProtection(int32(binary.LittleEndian.Uint32(body[60:]))),
	}
	nsect := binary.LittleEndian.Uint32(body[64:])

	secOff := 8 + segment64HdrSize
	for i := uint32(0); i < nsect; i++ {
		if secOff+section64Size > len(body) {
			return Segment{}, &ParseError{Reason: "truncated section_64 table"}
		}
		s := body[secOff : secOff+section64Size]
		seg.Sections = append(seg.Sections, Section{
			Name:      cName(s[0:16]),
			Segname:   cName(s[16:32]),
			Addr:      binary.LittleEndian.Uint64(s[32:]),
			Size:      binary.LittleEndian.Uint64(s[40:]),
			Offset:    binary.LittleEndian.Uint32(s[48:]),
			Flags:     types.SectionFlag(binary.LittleEndian.Uint32(s[64:])),
			Reserved1: binary.LittleEndian.Uint32(s[68:]),
		})
		secOff += section64Size
	}
	return seg, nil
}

func readSymtab(data []byte, cmd types.SymtabCmd) ([]types.Nlist64, []byte, error) {
	const nlistSize = 16
	end := uint64(cmd.Symoff) + uint64(cmd.Nsyms)*nlistSize
	if end > uint64(len(data)) {
		return nil, nil, &ParseError{Reason: "symbol table out of bounds"}
	}
	syms := make([]types.Nlist64, cmd.Nsyms)
	for i := range syms {
		b := data[uint64(cmd.Symoff)+uint64(i)*nlistSize:]
		syms[i] = types.Nlist64{
			Name:  binary.LittleEndian.Uint32(b[0:]),
			Type:  types.NType(b[4]),
			Sect:  b[5],
			Desc:  binary.LittleEndian.Uint16(b[6:]),
			Value: binary.LittleEndian.Uint64(b[8:]),
		}
	}
	strEnd := uint64(cmd.Stroff) + uint64(cmd.Strsize)
	if strEnd > uint64(len(data)) {
		return nil, nil, &ParseError{Reason: "string table out of bounds"}
	}
	return syms, data[cmd.Stroff:strEnd], nil
}

func readIndirectSymbols(data []byte, cmd types.DysymtabCmd) ([]uint32, error) {
	end := uint64(cmd.Indirectsymoff) + uint64(cmd.Nindirectsyms)*4
	if end > uint64(len(data)) {
		return nil, &ParseError{Reason: "indirect symbol table out of bounds"}
	}
	ind := make([]uint32, cmd.Nindirectsyms)
	for i := range ind {
		ind[i] = binary.LittleEndian.Uint32(data[uint64(cmd.Indirectsymoff)+uint64(i)*4:])
	}
	return ind, nil
}

// cName trims the trailing NUL padding from a fixed 16-byte Mach-O name
// field.
func cName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
