// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pe decodes PE images and bare COFF objects. An image carries
// the MZ DOS stub and a "PE\0\0" signature at the offset the stub names;
// an object file starts directly at the COFF header. Both little-endian
// only, per the format.
package pe

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/appsworld/go-objfile/internal/raw"
	"github.com/appsworld/go-objfile/types"
)

// A FileHeader is the decoded COFF header plus the optional-header fields
// this reader interprets.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16

	// From the optional header; zero for bare objects.
	OptMagic            uint16
	AddressOfEntryPoint uint32
	ImageBase           uint64
	SectionAlignment    uint32
}

// A SectionHeader is one decoded entry of the section table.
type SectionHeader struct {
	Name                 string
	Index                int
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	NumberOfRelocations  uint16
	Characteristics      uint32

	relocs raw.Table
}

type symtabRef struct {
	tab     raw.Table
	strtab  []byte
	present bool
}

// A File represents a decoded PE image or COFF object. It borrows the
// input buffer and never mutates it.
type File struct {
	FileHeader

	r        raw.Reader
	sections []SectionHeader
	symtab   symtabRef
	is64     bool
}

// Parse decodes the PE image or COFF object in data.
func Parse(data []byte) (*File, error) {
	r := raw.NewReader(data, binary.LittleEndian)

	var base uint64
	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		lfanew, err := r.Uint32(dosStubSigOffset, "e_lfanew")
		if err != nil {
			return nil, err
		}
		sig, err := r.Bytes(uint64(lfanew), 4, "PE signature")
		if err != nil {
			return nil, err
		}
		if string(sig) != "PE\x00\x00" {
			return nil, types.Errorf(types.ErrUnknownFormat, int64(lfanew), "PE signature", sig)
		}
		base = uint64(lfanew) + 4
	}

	f := &File{r: r}
	var err error
	if f.Machine, err = r.Uint16(base, "machine"); err != nil {
		return nil, err
	}
	if base == 0 && !KnownMachine(f.Machine) {
		// Without the signature, only a recognized machine value
		// identifies a bare COFF object.
		return nil, types.Errorf(types.ErrUnknownFormat, 0, "machine", f.Machine)
	}
	if f.NumberOfSections, err = r.Uint16(base+2, "number of sections"); err != nil {
		return nil, err
	}
	if f.TimeDateStamp, err = r.Uint32(base+4, "time date stamp"); err != nil {
		return nil, err
	}
	if f.PointerToSymbolTable, err = r.Uint32(base+8, "pointer to symbol table"); err != nil {
		return nil, err
	}
	if f.NumberOfSymbols, err = r.Uint32(base+12, "number of symbols"); err != nil {
		return nil, err
	}
	if f.SizeOfOptionalHeader, err = r.Uint16(base+16, "size of optional header"); err != nil {
		return nil, err
	}
	if f.Characteristics, err = r.Uint16(base+18, "characteristics"); err != nil {
		return nil, err
	}

	if err := f.parseOptionalHeader(base + coffHeaderSize); err != nil {
		return nil, err
	}
	if err := f.parseSymtab(); err != nil {
		return nil, err
	}
	if err := f.parseSections(base + coffHeaderSize + uint64(f.SizeOfOptionalHeader)); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parseOptionalHeader(off uint64) error {
	switch {
	case f.SizeOfOptionalHeader == 0:
		// Object file; width follows the machine.
		f.is64 = f.Machine == IMAGE_FILE_MACHINE_AMD64 ||
			f.Machine == IMAGE_FILE_MACHINE_ARM64 ||
			f.Machine == IMAGE_FILE_MACHINE_RISCV64
		f.SectionAlignment = defaultSectionAlign
		return nil
	case f.SizeOfOptionalHeader < 2:
		return types.Errorf(types.ErrMalformedHeader, int64(off), "size of optional header", f.SizeOfOptionalHeader)
	}

	opt, err := f.r.Bytes(off, uint64(f.SizeOfOptionalHeader), "optional header")
	if err != nil {
		return err
	}
	or := raw.NewReader(opt, binary.LittleEndian)
	f.OptMagic, _ = or.Uint16(0, "optional header magic")
	switch f.OptMagic {
	case OptionalHeader32Magic:
		f.is64 = false
		if f.SizeOfOptionalHeader < 36 {
			return types.Errorf(types.ErrMalformedHeader, int64(off), "size of optional header", f.SizeOfOptionalHeader)
		}
		f.AddressOfEntryPoint, _ = or.Uint32(16, "address of entry point")
		ib, _ := or.Uint32(28, "image base")
		f.ImageBase = uint64(ib)
		f.SectionAlignment, _ = or.Uint32(32, "section alignment")
	case OptionalHeader64Magic:
		f.is64 = true
		if f.SizeOfOptionalHeader < 36 {
			return types.Errorf(types.ErrMalformedHeader, int64(off), "size of optional header", f.SizeOfOptionalHeader)
		}
		f.AddressOfEntryPoint, _ = or.Uint32(16, "address of entry point")
		f.ImageBase, _ = or.Uint64(24, "image base")
		f.SectionAlignment, _ = or.Uint32(32, "section alignment")
	default:
		return types.Errorf(types.ErrMalformedHeader, int64(off), "optional header magic", f.OptMagic)
	}
	if f.SectionAlignment == 0 {
		f.SectionAlignment = defaultSectionAlign
	}
	return nil
}

func (f *File) parseSymtab() error {
	if f.PointerToSymbolTable == 0 || f.NumberOfSymbols == 0 {
		return nil
	}
	tab, err := f.r.Table(uint64(f.PointerToSymbolTable), uint64(f.NumberOfSymbols), symbolEntrySize, "symbol table")
	if err != nil {
		return err
	}
	// The COFF string table directly follows the symbol table; its first
	// four bytes are its own length.
	strOff := uint64(f.PointerToSymbolTable) + uint64(f.NumberOfSymbols)*symbolEntrySize
	strSize, err := f.r.Uint32(strOff, "string table size")
	if err != nil {
		return err
	}
	if strSize < 4 {
		return types.Errorf(types.ErrMalformedHeader, int64(strOff), "string table size", strSize)
	}
	strtab, err := f.r.Bytes(strOff, uint64(strSize), "string table")
	if err != nil {
		return err
	}
	f.symtab = symtabRef{tab: tab, strtab: strtab, present: true}
	return nil
}

func (f *File) parseSections(off uint64) error {
	if f.NumberOfSections == 0 {
		return nil
	}
	tab, err := f.r.Table(off, uint64(f.NumberOfSections), sectionHeaderSize, "section table")
	if err != nil {
		return err
	}
	f.sections = make([]SectionHeader, f.NumberOfSections)
	for i := range f.sections {
		sh := &f.sections[i]
		sh.Index = i
		e := tab.Entry(i)
		nameb, _ := e.Bytes(0, 8, "section name")
		sh.VirtualSize, _ = e.Uint32(8, "virtual size")
		sh.VirtualAddress, _ = e.Uint32(12, "virtual address")
		sh.SizeOfRawData, _ = e.Uint32(16, "size of raw data")
		sh.PointerToRawData, _ = e.Uint32(20, "pointer to raw data")
		sh.PointerToRelocations, _ = e.Uint32(24, "pointer to relocations")
		sh.NumberOfRelocations, _ = e.Uint16(32, "number of relocations")
		sh.Characteristics, _ = e.Uint32(36, "characteristics")

		name, err := f.sectionName(nameb, tab.Offset(i))
		if err != nil {
			return err
		}
		sh.Name = name

		if sh.NumberOfRelocations > 0 {
			t, err := f.r.Table(uint64(sh.PointerToRelocations), uint64(sh.NumberOfRelocations), relocEntrySize, "section relocation table")
			if err != nil {
				return err
			}
			sh.relocs = t
		}
	}
	return nil
}

// sectionName resolves a section name, following "/N" references into
// the COFF string table for names longer than eight bytes.
func (f *File) sectionName(b []byte, off uint64) (string, error) {
	name := cstring(b)
	if !strings.HasPrefix(name, "/") {
		return name, nil
	}
	n, err := strconv.ParseUint(name[1:], 10, 32)
	if err != nil || !f.symtab.present {
		return "", types.Errorf(types.ErrMalformedHeader, int64(off), "long section name", name)
	}
	return f.stringAt(uint32(n), off)
}

func (f *File) stringAt(off uint32, at uint64) (string, error) {
	if off >= uint32(len(f.symtab.strtab)) {
		return "", types.Errorf(types.ErrOutOfBounds, int64(at), "string table offset", off)
	}
	return cstring(f.symtab.strtab[off:]), nil
}

// Format returns Pe32 or Pe64.
func (f *File) Format() types.FormatKind {
	if f.is64 {
		return types.Pe64
	}
	return types.Pe32
}

// Endianness returns LittleEndian; PE files have no big-endian variant.
func (f *File) Endianness() types.Endianness { return types.LittleEndian }

// Arch maps the COFF machine value onto a normalized Machine.
func (f *File) Arch() types.Machine { return machineArch(f.Machine) }

// EntryPoint returns the entry virtual address, or zero for objects.
func (f *File) EntryPoint() uint64 {
	if f.AddressOfEntryPoint == 0 {
		return 0
	}
	return f.ImageBase + uint64(f.AddressOfEntryPoint)
}

// Segments synthesizes loadable regions from the section table; PE has
// no separate segment concept. Sections the linker strips from memory
// are skipped.
func (f *File) Segments() []types.Segment {
	segs := make([]types.Segment, 0, len(f.sections))
	for i := range f.sections {
		sh := &f.sections[i]
		if sh.Characteristics&(IMAGE_SCN_LNK_INFO|IMAGE_SCN_LNK_REMOVE) != 0 {
			continue
		}
		filesz := uint64(sh.SizeOfRawData)
		if uint64(sh.VirtualSize) != 0 && uint64(sh.VirtualSize) < filesz {
			filesz = uint64(sh.VirtualSize)
		}
		segs = append(segs, types.Segment{
			Name:   sh.Name,
			Addr:   f.ImageBase + uint64(sh.VirtualAddress),
			Offset: uint64(sh.PointerToRawData),
			Filesz: filesz,
			Memsz:  uint64(sh.VirtualSize),
			Prot:   sh.prot(),
			Align:  uint64(f.SectionAlignment),
		})
	}
	return segs
}

// NumSections returns the number of section table entries.
func (f *File) NumSections() int { return len(f.sections) }

// SectionByIndex returns the decoded header for section i.
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
		Addr:   f.ImageBase + uint64(sh.VirtualAddress),
		Offset: uint64(sh.PointerToRawData),
		Size:   sh.size(),
		Kind:   sh.kind(),
		Align:  uint64(f.SectionAlignment),
	}, nil
}

// size prefers the virtual size; objects leave it zero and use the raw
// data size instead.
func (sh *SectionHeader) size() uint64 {
	if sh.VirtualSize != 0 {
		return uint64(sh.VirtualSize)
	}
	return uint64(sh.SizeOfRawData)
}

func (sh *SectionHeader) kind() types.SectionKind {
	switch {
	case sh.Characteristics&(IMAGE_SCN_CNT_CODE|IMAGE_SCN_MEM_EXECUTE) != 0:
		return types.SectionText
	case sh.Characteristics&IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0:
		return types.SectionBss
	case strings.HasPrefix(sh.Name, ".debug"):
		return types.SectionDebug
	case sh.Characteristics&IMAGE_SCN_LNK_INFO != 0:
		return types.SectionMetadata
	case sh.Characteristics&IMAGE_SCN_CNT_INITIALIZED_DATA != 0:
		return types.SectionData
	}
	return types.SectionUnknown
}

func (sh *SectionHeader) prot() types.Prot {
	var p types.Prot
	if sh.Characteristics&IMAGE_SCN_MEM_READ != 0 {
		p |= 0x1
	}
	if sh.Characteristics&IMAGE_SCN_MEM_WRITE != 0 {
		p |= 0x2
	}
	if sh.Characteristics&IMAGE_SCN_MEM_EXECUTE != 0 {
		p |= 0x4
	}
	return p
}

// SectionData returns the raw file bytes of section i, clamped to the
// virtual size when the on-disk data is padded past it. Uninitialized
// sections have no file bytes.
func (f *File) SectionData(i int) ([]byte, error) {
	sh, err := f.SectionByIndex(i)
	if err != nil {
		return nil, err
	}
	if sh.Characteristics&IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 || sh.PointerToRawData == 0 {
		return nil, nil
	}
	n := uint64(sh.SizeOfRawData)
	if sh.VirtualSize != 0 && uint64(sh.VirtualSize) < n {
		n = uint64(sh.VirtualSize)
	}
	return f.r.Bytes(uint64(sh.PointerToRawData), n, "section data")
}

// NumSymbols returns the number of symbol table entries, counting aux
// records, which occupy table slots of their own.
func (f *File) NumSymbols() int {
	if !f.symtab.present {
		return 0
	}
	return f.symtab.tab.Count()
}

// Symbol decodes entry i of the COFF symbol table. Names longer than
// eight bytes resolve through the string table; a bad string offset is
// reported for that entry only.
func (f *File) Symbol(i int) (types.Symbol, error) {
	if i < 0 || i >= f.NumSymbols() {
		return types.Symbol{}, types.Errorf(types.ErrOutOfBounds, 0, "symbol index", i)
	}
	e := f.symtab.tab.Entry(i)
	nameb, _ := e.Bytes(0, 8, "symbol name")
	value, _ := e.Uint32(8, "symbol value")
	secRaw, _ := e.Uint16(12, "section number")
	styp, _ := e.Uint16(14, "symbol type")
	sclass, _ := e.Uint8(16, "storage class")
	secnum := int16(secRaw)

	var name string
	if nameb[0] == 0 && nameb[1] == 0 && nameb[2] == 0 && nameb[3] == 0 {
		off := binary.LittleEndian.Uint32(nameb[4:8])
		s, err := f.stringAt(off, uint64(f.symtab.tab.Offset(i)))
		if err != nil {
			return types.Symbol{}, err
		}
		name = s
	} else {
		name = cstring(nameb)
	}

	sym := types.Symbol{
		Name:    name,
		Index:   i,
		Value:   uint64(value),
		Section: types.SectionNone,
		Binding: types.BindLocal,
		Kind:    types.SymbolUnknown,
	}
	switch sclass {
	case IMAGE_SYM_CLASS_EXTERNAL:
		sym.Binding = types.BindGlobal
	case IMAGE_SYM_CLASS_WEAK_EXTERNAL:
		sym.Binding = types.BindWeak
	case IMAGE_SYM_CLASS_FILE:
		sym.Kind = types.SymbolFile
	}
	if (styp>>4)&0xf == IMAGE_SYM_DTYPE_FUNCTION {
		sym.Kind = types.SymbolFunc
	}
	switch {
	case secnum == IMAGE_SYM_UNDEFINED && sclass != IMAGE_SYM_CLASS_FILE:
		sym.Kind = types.SymbolUndefined
	case secnum > 0 && int(secnum) <= len(f.sections):
		sym.Section = int(secnum) - 1
		if sym.Kind == types.SymbolUnknown {
			sym.Kind = types.SymbolData
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

// Reloc decodes relocation entry i of section.
func (f *File) Reloc(section, i int) (types.Relocation, error) {
	if section < 0 || section >= len(f.sections) {
		return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "section index", section)
	}
	sh := &f.sections[section]
	if i < 0 || i >= sh.relocs.Count() {
		return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "relocation index", i)
	}
	e := sh.relocs.Entry(i)
	vaddr, _ := e.Uint32(0, "relocation virtual address")
	symIdx, _ := e.Uint32(4, "relocation symbol index")
	typ, _ := e.Uint16(8, "relocation type")

	off := uint64(vaddr)
	if vaddr >= sh.VirtualAddress {
		off = uint64(vaddr - sh.VirtualAddress)
	}
	rel := types.Relocation{
		Offset:      off,
		SymbolIndex: int(symIdx),
		TypeCode:    uint32(typ),
	}
	rel.Kind, rel.Size, rel.PCRel = f.relocKind(typ)
	return rel, nil
}

func (f *File) relocKind(code uint16) (types.RelocKind, uint8, bool) {
	switch f.Machine {
	case IMAGE_FILE_MACHINE_I386:
		switch code {
		case IMAGE_REL_I386_DIR32:
			return types.RelocAbsolute, 4, false
		case IMAGE_REL_I386_REL32:
			return types.RelocRelative, 4, true
		}
	case IMAGE_FILE_MACHINE_AMD64:
		switch code {
		case IMAGE_REL_AMD64_ADDR64:
			return types.RelocAbsolute, 8, false
		case IMAGE_REL_AMD64_ADDR32:
			return types.RelocAbsolute, 4, false
		case IMAGE_REL_AMD64_REL32:
			return types.RelocRelative, 4, true
		}
	case IMAGE_FILE_MACHINE_ARM64:
		switch code {
		case IMAGE_REL_ARM64_ADDR64:
			return types.RelocAbsolute, 8, false
		case IMAGE_REL_ARM64_ADDR32:
			return types.RelocAbsolute, 4, false
		case IMAGE_REL_ARM64_REL32:
			return types.RelocRelative, 4, true
		}
	}
	return types.RelocUnknown, 0, false
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
