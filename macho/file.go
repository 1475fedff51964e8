// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package macho decodes single-architecture Mach-O images and fat
// containers. Segments are enumerated from LC_SEGMENT/LC_SEGMENT_64 load
// commands, the symbol table from LC_SYMTAB, and relocations from each
// section's relocation table.
package macho

import (
	"encoding/binary"
	"strings"

	"github.com/appsworld/go-objfile/internal/raw"
	"github.com/appsworld/go-objfile/types"
)

// A FileHeader is the decoded Mach-O header.
type FileHeader struct {
	Magic        Magic
	CPU          CPU
	SubCPU       uint32
	Type         uint32
	NCommands    uint32
	SizeCommands uint32
	Flags        uint32
}

// A SegmentHeader describes one LC_SEGMENT or LC_SEGMENT_64 command.
type SegmentHeader struct {
	Cmd       LoadCmd
	Name      string
	Addr      uint64
	Memsz     uint64
	Offset    uint64
	Filesz    uint64
	Maxprot   types.Prot
	Prot      types.Prot
	Nsect     uint32
	Flag      uint32
	Firstsect uint32
}

// A SectionHeader describes one section nested in a segment command.
// Sections are numbered in load-command order; that ordinal is what
// symbol n_sect fields refer to (1-based on disk).
type SectionHeader struct {
	Name   string
	Seg    string
	Index  int
	Addr   uint64
	Size   uint64
	Offset uint64
	Align  uint32
	Reloff uint32
	Nreloc uint32
	Flags  uint32

	relocs raw.Table
}

type symtabRef struct {
	tab     raw.Table
	strtab  []byte
	present bool
}

// A File represents a decoded single-architecture Mach-O file. It borrows
// the input buffer and never mutates it.
type File struct {
	FileHeader

	r        raw.Reader
	segs     []SegmentHeader
	sections []SectionHeader
	symtab   symtabRef
	entry    uint64
}

// Parse decodes the Mach-O file in data. Fat containers are rejected
// here; use ParseFat for those.
func Parse(data []byte) (*File, error) {
	if len(data) < 4 {
		return nil, types.Errorf(types.ErrOutOfBounds, 0, "magic", len(data))
	}

	// Magic32 and Magic64 differ only in the bottom bit.
	be := binary.BigEndian.Uint32(data[0:4])
	le := binary.LittleEndian.Uint32(data[0:4])
	if Magic(be) == MagicFat {
		return nil, types.Errorf(types.ErrUnsupportedVariant, 0, "fat Mach-O container, use ParseFat", nil)
	}
	f := new(File)
	var bo binary.ByteOrder
	switch Magic32.Int() &^ 1 {
	case be &^ 1:
		bo = binary.BigEndian
		f.Magic = Magic(be)
	case le &^ 1:
		bo = binary.LittleEndian
		f.Magic = Magic(le)
	default:
		return nil, types.Errorf(types.ErrUnknownFormat, 0, "magic", data[0:4])
	}
	f.r = raw.NewReader(data, bo)

	var err error
	if f.CPU, err = readCPU(f.r); err != nil {
		return nil, err
	}
	if f.SubCPU, err = f.r.Uint32(8, "cpusubtype"); err != nil {
		return nil, err
	}
	if f.Type, err = f.r.Uint32(12, "filetype"); err != nil {
		return nil, err
	}
	if f.NCommands, err = f.r.Uint32(16, "ncmds"); err != nil {
		return nil, err
	}
	if f.SizeCommands, err = f.r.Uint32(20, "sizeofcmds"); err != nil {
		return nil, err
	}
	if f.Flags, err = f.r.Uint32(24, "flags"); err != nil {
		return nil, err
	}

	offset := uint64(fileHeaderSize32)
	if f.Magic == Magic64 {
		offset = fileHeaderSize64
	}
	dat, err := f.r.Bytes(offset, uint64(f.SizeCommands), "load commands")
	if err != nil {
		return nil, err
	}
	if err := f.parseLoads(dat, offset); err != nil {
		return nil, err
	}
	return f, nil
}

func readCPU(r raw.Reader) (CPU, error) {
	v, err := r.Uint32(4, "cputype")
	return CPU(v), err
}

func (f *File) parseLoads(dat []byte, offset uint64) error {
	bo := f.r.ByteOrder()
	var mainOff uint64
	var haveMain bool
	for i := uint32(0); i < f.NCommands; i++ {
		// Each load command begins with uint32 command and length.
		if len(dat) < 8 {
			return types.Errorf(types.ErrMalformedHeader, int64(offset), "command block too small", nil)
		}
		cmd, siz := LoadCmd(bo.Uint32(dat[0:4])), bo.Uint32(dat[4:8])
		if siz < 8 || siz > uint32(len(dat)) {
			return types.Errorf(types.ErrMalformedHeader, int64(offset), "invalid command block size", siz)
		}
		var cmddat []byte
		cmddat, dat = dat[0:siz], dat[siz:]
		cr := raw.NewReader(cmddat, bo)

		switch cmd {
		case LC_SEGMENT, LC_SEGMENT_64:
			if err := f.parseSegment(cr, cmd, offset); err != nil {
				return err
			}
		case LC_SYMTAB:
			if err := f.parseSymtabCmd(cr, offset); err != nil {
				return err
			}
		case LC_MAIN:
			v, err := cr.Uint64(8, "LC_MAIN entryoff")
			if err != nil {
				return err
			}
			mainOff, haveMain = v, true
		case LC_UNIXTHREAD:
			f.parseUnixThread(cr)
		default:
			// Unrecognized load commands carry data this reader does not
			// interpret; they are skipped, not rejected.
		}
		offset += uint64(siz)
	}

	if haveMain {
		// LC_MAIN records a file offset into __TEXT; the entry address is
		// segment-relative.
		for i := range f.segs {
			if f.segs[i].Name == "__TEXT" {
				f.entry = f.segs[i].Addr + mainOff
				break
			}
		}
	}
	return nil
}

func (f *File) parseSegment(cr raw.Reader, cmd LoadCmd, offset uint64) error {
	var s SegmentHeader
	s.Cmd = cmd
	nameb, err := cr.Bytes(8, 16, "segname")
	if err != nil {
		return err
	}
	s.Name = cstring(nameb)

	var nsect uint32
	var secOff uint64
	if cmd == LC_SEGMENT_64 {
		if cr.Len() < segmentCmdSize64 {
			return types.Errorf(types.ErrMalformedHeader, int64(offset), "LC_SEGMENT_64 size", cr.Len())
		}
		s.Addr, _ = cr.Uint64(24, "vmaddr")
		s.Memsz, _ = cr.Uint64(32, "vmsize")
		s.Offset, _ = cr.Uint64(40, "fileoff")
		s.Filesz, _ = cr.Uint64(48, "filesize")
		mp, _ := cr.Uint32(56, "maxprot")
		ip, _ := cr.Uint32(60, "initprot")
		nsect, _ = cr.Uint32(64, "nsects")
		s.Flag, _ = cr.Uint32(68, "flags")
		s.Maxprot, s.Prot = types.Prot(mp), types.Prot(ip)
		secOff = segmentCmdSize64
	} else {
		if cr.Len() < segmentCmdSize32 {
			return types.Errorf(types.ErrMalformedHeader, int64(offset), "LC_SEGMENT size", cr.Len())
		}
		v, _ := cr.Uint32(24, "vmaddr")
		s.Addr = uint64(v)
		v, _ = cr.Uint32(28, "vmsize")
		s.Memsz = uint64(v)
		v, _ = cr.Uint32(32, "fileoff")
		s.Offset = uint64(v)
		v, _ = cr.Uint32(36, "filesize")
		s.Filesz = uint64(v)
		mp, _ := cr.Uint32(40, "maxprot")
		ip, _ := cr.Uint32(44, "initprot")
		nsect, _ = cr.Uint32(48, "nsects")
		s.Flag, _ = cr.Uint32(52, "flags")
		s.Maxprot, s.Prot = types.Prot(mp), types.Prot(ip)
		secOff = segmentCmdSize32
	}

	s.Nsect = nsect
	s.Firstsect = uint32(len(f.sections))

	secSize := uint64(sectionSize32)
	if cmd == LC_SEGMENT_64 {
		secSize = sectionSize64
	}
	for j := uint32(0); j < nsect; j++ {
		sb, err := cr.Bytes(secOff, secSize, "section header")
		if err != nil {
			return types.Errorf(types.ErrMalformedHeader, int64(offset), "segment nsects", nsect)
		}
		if err := f.pushSection(raw.NewReader(sb, cr.ByteOrder()), cmd, s.Name); err != nil {
			return err
		}
		secOff += secSize
	}
	f.segs = append(f.segs, s)
	return nil
}

func (f *File) pushSection(sr raw.Reader, cmd LoadCmd, segname string) error {
	var sh SectionHeader
	nameb, _ := sr.Bytes(0, 16, "sectname")
	sh.Name = cstring(nameb)
	sh.Seg = segname
	sh.Index = len(f.sections)
	if cmd == LC_SEGMENT_64 {
		sh.Addr, _ = sr.Uint64(32, "addr")
		sh.Size, _ = sr.Uint64(40, "size")
		v, _ := sr.Uint32(48, "offset")
		sh.Offset = uint64(v)
		sh.Align, _ = sr.Uint32(52, "align")
		sh.Reloff, _ = sr.Uint32(56, "reloff")
		sh.Nreloc, _ = sr.Uint32(60, "nreloc")
		sh.Flags, _ = sr.Uint32(64, "flags")
	} else {
		v, _ := sr.Uint32(32, "addr")
		sh.Addr = uint64(v)
		v, _ = sr.Uint32(36, "size")
		sh.Size = uint64(v)
		v, _ = sr.Uint32(40, "offset")
		sh.Offset = uint64(v)
		sh.Align, _ = sr.Uint32(44, "align")
		sh.Reloff, _ = sr.Uint32(48, "reloff")
		sh.Nreloc, _ = sr.Uint32(52, "nreloc")
		sh.Flags, _ = sr.Uint32(56, "flags")
	}

	if sh.Nreloc > 0 {
		t, err := f.r.Table(uint64(sh.Reloff), uint64(sh.Nreloc), relocInfoSize, "section relocation table")
		if err != nil {
			return err
		}
		sh.relocs = t
	}
	f.sections = append(f.sections, sh)
	return nil
}

func (f *File) parseSymtabCmd(cr raw.Reader, offset uint64) error {
	symoff, err := cr.Uint32(8, "symoff")
	if err != nil {
		return err
	}
	nsyms, err := cr.Uint32(12, "nsyms")
	if err != nil {
		return err
	}
	stroff, err := cr.Uint32(16, "stroff")
	if err != nil {
		return err
	}
	strsize, err := cr.Uint32(20, "strsize")
	if err != nil {
		return err
	}

	symsz := uint64(nlistSize32)
	if f.Magic == Magic64 {
		symsz = nlistSize64
	}
	tab, err := f.r.Table(uint64(symoff), uint64(nsyms), symsz, "symbol table")
	if err != nil {
		return err
	}
	strtab, err := f.r.Bytes(uint64(stroff), uint64(strsize), "symbol string table")
	if err != nil {
		return err
	}
	f.symtab = symtabRef{tab: tab, strtab: strtab, present: true}
	return nil
}

// parseUnixThread pulls the initial PC out of an LC_UNIXTHREAD register
// state. The register layout is cputype-specific; unknown cputypes leave
// the entry point unset rather than failing the parse.
func (f *File) parseUnixThread(cr raw.Reader) {
	var pcOff uint64
	var wide bool
	switch f.CPU {
	case CPU386:
		pcOff, wide = 16+10*4, false
	case CPUAmd64:
		pcOff, wide = 16+16*8, true
	case CPUArm:
		pcOff, wide = 16+15*4, false
	case CPUArm64:
		pcOff, wide = 16+32*8, true
	default:
		return
	}
	if wide {
		if v, err := cr.Uint64(pcOff, "thread state pc"); err == nil {
			f.entry = v
		}
	} else {
		if v, err := cr.Uint32(pcOff, "thread state pc"); err == nil {
			f.entry = uint64(v)
		}
	}
}

// Format returns MachO32 or MachO64.
func (f *File) Format() types.FormatKind {
	if f.Magic == Magic64 {
		return types.MachO64
	}
	return types.MachO32
}

// Endianness returns the file's byte order.
func (f *File) Endianness() types.Endianness {
	if f.r.ByteOrder() == binary.BigEndian {
		return types.BigEndian
	}
	return types.LittleEndian
}

// Arch maps the cputype onto a normalized Machine.
func (f *File) Arch() types.Machine {
	switch f.CPU {
	case CPU386:
		return types.MachineX86
	case CPUAmd64:
		return types.MachineX86_64
	case CPUArm:
		return types.MachineArm
	case CPUArm64:
		return types.MachineArm64
	case CPUPpc:
		return types.MachinePPC
	case CPUPpc64:
		return types.MachinePPC64
	}
	return types.MachineOther
}

// EntryPoint returns the entry address from LC_MAIN or LC_UNIXTHREAD, or
// zero if the file declares neither.
func (f *File) EntryPoint() uint64 { return f.entry }

// Segments returns the segment load commands in command order.
func (f *File) Segments() []types.Segment {
	segs := make([]types.Segment, 0, len(f.segs))
	for i := range f.segs {
		s := &f.segs[i]
		segs = append(segs, types.Segment{
			Name:   s.Name,
			Addr:   s.Addr,
			Offset: s.Offset,
			Filesz: s.Filesz,
			Memsz:  s.Memsz,
			Prot:   s.Prot,
		})
	}
	return segs
}

// NumSections returns the number of sections across all segments.
func (f *File) NumSections() int { return len(f.sections) }

// SectionByIndex returns the decoded header for section i (0-based; the
// on-disk n_sect ordinal is this plus one).
func (f *File) SectionByIndex(i int) (*SectionHeader, error) {
	if i < 0 || i >= len(f.sections) {
		return nil, types.Errorf(types.ErrOutOfBounds, 0, "section index", i)
	}
	return &f.sections[i], nil
}

// Section returns the normalized view of section i.
func (f *File) Section(i int) (types.Section, error) {
	sh, err := f.SectionByIndex(i)
	if err != nil {
		return types.Section{}, err
	}
	return types.Section{
		Name:   sh.Name,
		Index:  i,
		Addr:   sh.Addr,
		Offset: sh.Offset,
		Size:   sh.Size,
		Kind:   sh.kind(),
		Align:  uint64(1) << sh.Align,
	}, nil
}

func (sh *SectionHeader) kind() types.SectionKind {
	switch sh.Flags & sectionTypeMask {
	case S_ZEROFILL, S_GB_ZEROFILL:
		return types.SectionBss
	case S_CSTRING_LITERALS:
		return types.SectionStrings
	}
	if sh.Flags&(S_ATTR_PURE_INSTRUCTIONS|S_ATTR_SOME_INSTRUCTIONS) != 0 {
		return types.SectionText
	}
	if sh.Seg == "__DWARF" || strings.HasPrefix(sh.Name, "__debug_") || strings.HasPrefix(sh.Name, "__zdebug_") {
		return types.SectionDebug
	}
	return types.SectionData
}

// SectionData returns the file bytes of section i as a view into the
// input buffer. Zerofill sections have no file bytes.
func (f *File) SectionData(i int) ([]byte, error) {
	sh, err := f.SectionByIndex(i)
	if err != nil {
		return nil, err
	}
	switch sh.Flags & sectionTypeMask {
	case S_ZEROFILL, S_GB_ZEROFILL:
		return nil, nil
	}
	return f.r.Bytes(sh.Offset, sh.Size, "section data")
}

// NumSymbols returns the number of nlist entries.
func (f *File) NumSymbols() int {
	if !f.symtab.present {
		return 0
	}
	return f.symtab.tab.Count()
}

// Symbol decodes nlist entry i. A name offset past the string table is
// reported for that entry only.
func (f *File) Symbol(i int) (types.Symbol, error) {
	if i < 0 || i >= f.NumSymbols() {
		return types.Symbol{}, types.Errorf(types.ErrOutOfBounds, 0, "symbol index", i)
	}
	e := f.symtab.tab.Entry(i)
	nameIdx, _ := e.Uint32(0, "n_strx")
	ntype, _ := e.Uint8(4, "n_type")
	nsect, _ := e.Uint8(5, "n_sect")
	desc, _ := e.Uint16(6, "n_desc")
	var value uint64
	if f.Magic == Magic64 {
		value, _ = e.Uint64(8, "n_value")
	} else {
		v, _ := e.Uint32(8, "n_value")
		value = uint64(v)
	}

	if nameIdx >= uint32(len(f.symtab.strtab)) {
		return types.Symbol{}, types.Errorf(types.ErrOutOfBounds, int64(f.symtab.tab.Offset(i)), "n_strx", nameIdx)
	}
	name := cstring(f.symtab.strtab[nameIdx:])

	sym := types.Symbol{
		Name:    name,
		Index:   i,
		Value:   value,
		Section: types.SectionNone,
		Binding: types.BindLocal,
		Kind:    types.SymbolUnknown,
	}
	if ntype&N_EXT != 0 {
		sym.Binding = types.BindGlobal
	}
	if desc&(N_WEAK_DEF|N_WEAK_REF) != 0 {
		sym.Binding = types.BindWeak
	}
	if ntype&N_STAB != 0 {
		sym.Kind = types.SymbolFile
		return sym, nil
	}
	switch ntype & N_TYPE {
	case N_UNDF:
		sym.Kind = types.SymbolUndefined
	case N_SECT:
		// n_sect is 1-based; 0 means NO_SECT. A dangling ordinal leaves
		// the symbol unresolved instead of indexing out of range.
		if nsect > 0 && int(nsect) <= len(f.sections) {
			sym.Section = int(nsect) - 1
			if f.sections[sym.Section].kind() == types.SectionText {
				sym.Kind = types.SymbolFunc
			} else {
				sym.Kind = types.SymbolData
			}
		}
	}
	return sym, nil
}

// NumRelocs returns the number of relocation entries of section i.
func (f *File) NumRelocs(section int) int {
	if section < 0 || section >= len(f.sections) {
		return 0
	}
	return f.sections[section].relocs.Count()
}

// Reloc decodes relocation entry i of section. Scattered and
// non-scattered forms are distinguished by the high bit of r_address;
// the packed field layout of the non-scattered form depends on the
// byte order.
func (f *File) Reloc(section, i int) (types.Relocation, error) {
	if section < 0 || section >= len(f.sections) {
		return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "section index", section)
	}
	sh := &f.sections[section]
	if i < 0 || i >= sh.relocs.Count() {
		return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "relocation index", i)
	}
	e := sh.relocs.Entry(i)
	addr, _ := e.Uint32(0, "r_address")
	symnum, _ := e.Uint32(4, "r_symbolnum")

	var rel types.Relocation
	var typ uint8
	var length uint8
	var pcrel, extern bool
	var value uint32
	if addr&(1<<31) != 0 { // scattered
		rel.Offset = uint64(addr & (1<<24 - 1))
		typ = uint8((addr >> 24) & (1<<4 - 1))
		length = uint8((addr >> 28) & (1<<2 - 1))
		pcrel = addr&(1<<30) != 0
		value = symnum
		extern = false
	} else {
		rel.Offset = uint64(addr)
		if f.r.ByteOrder() == binary.LittleEndian {
			value = symnum & (1<<24 - 1)
			pcrel = symnum&(1<<24) != 0
			length = uint8((symnum >> 25) & (1<<2 - 1))
			extern = symnum&(1<<27) != 0
			typ = uint8((symnum >> 28) & (1<<4 - 1))
		} else {
			value = symnum >> 8
			pcrel = symnum&(1<<7) != 0
			length = uint8((symnum >> 5) & (1<<2 - 1))
			extern = symnum&(1<<4) != 0
			typ = uint8(symnum & (1<<4 - 1))
		}
	}

	if extern {
		rel.SymbolIndex = int(value)
	} else {
		// Section-relative or scattered value; no symbol table reference.
		rel.SymbolIndex = -1
	}
	rel.TypeCode = uint32(typ)
	rel.Size = 1 << length
	rel.PCRel = pcrel
	rel.Kind = f.relocKind(typ, pcrel)
	return rel, nil
}

func (f *File) relocKind(typ uint8, pcrel bool) types.RelocKind {
	switch f.CPU {
	case CPU386, CPUPpc, CPUArm:
		if typ == GENERIC_RELOC_VANILLA {
			if pcrel {
				return types.RelocRelative
			}
			return types.RelocAbsolute
		}
	case CPUAmd64:
		switch typ {
		case X86_64_RELOC_UNSIGNED:
			return types.RelocAbsolute
		case X86_64_RELOC_SIGNED, X86_64_RELOC_BRANCH:
			return types.RelocRelative
		}
	case CPUArm64:
		switch typ {
		case ARM64_RELOC_UNSIGNED:
			return types.RelocAbsolute
		case ARM64_RELOC_BRANCH26:
			return types.RelocRelative
		}
	}
	return types.RelocUnknown
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
