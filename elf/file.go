// Package elf decodes ELF object files, shared libraries, and
// executables. Both widths and byte orders are handled by one code path;
// every offset and count from the file is validated against the buffer
// before the table it describes is walked.
package elf

import (
	"encoding/binary"
	"strings"

	"github.com/appsworld/go-objfile/internal/raw"
	"github.com/appsworld/go-objfile/types"
)

// A FileHeader holds the decoded ELF header.
type FileHeader struct {
	Class     Class
	Data      Data
	OSABI     uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// A SectionHeader is one decoded entry of the section header table.
type SectionHeader struct {
	Name      string
	NameIndex uint32
	Index     int
	Type      SectionType
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type symtabRef struct {
	tab     raw.Table
	strtab  []byte
	present bool
}

type relocTable struct {
	target int
	tab    raw.Table
	rela   bool
}

// A File represents a decoded ELF file. It borrows the input buffer for
// its whole lifetime and never mutates it.
type File struct {
	FileHeader

	r        raw.Reader
	progs    raw.Table
	sections []SectionHeader
	symtab   symtabRef
	relocs   []relocTable
}

// Parse decodes the ELF file in data. The returned File keeps data and
// decodes symbols and relocations from it lazily. A structurally invalid
// file yields an error and no File.
func Parse(data []byte) (*File, error) {
	if len(data) < 16 {
		return nil, types.Errorf(types.ErrOutOfBounds, 0, "ident", len(data))
	}
	if string(data[0:4]) != elfMagic {
		return nil, types.Errorf(types.ErrUnknownFormat, 0, "magic", data[0:4])
	}

	f := new(File)
	f.Class = Class(data[4])
	f.Data = Data(data[5])
	f.OSABI = data[7]

	var bo binary.ByteOrder
	switch f.Data {
	case Data2LSB:
		bo = binary.LittleEndian
	case Data2MSB:
		bo = binary.BigEndian
	default:
		return nil, types.Errorf(types.ErrMalformedHeader, 5, "ident data encoding", uint8(f.Data))
	}
	if f.Class != Class32 && f.Class != Class64 {
		return nil, types.Errorf(types.ErrMalformedHeader, 4, "ident class", uint8(f.Class))
	}
	f.r = raw.NewReader(data, bo)

	if err := f.parseHeader(); err != nil {
		return nil, err
	}
	if err := f.parseSections(); err != nil {
		return nil, err
	}
	if err := f.parseSymtab(); err != nil {
		return nil, err
	}
	if err := f.parseRelocTables(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parseHeader() error {
	r := f.r
	var err error
	if f.Type, err = r.Uint16(16, "e_type"); err != nil {
		return err
	}
	if f.Machine, err = r.Uint16(18, "e_machine"); err != nil {
		return err
	}
	if f.Version, err = r.Uint32(20, "e_version"); err != nil {
		return err
	}

	if f.Class == Class64 {
		if f.Entry, err = r.Uint64(24, "e_entry"); err != nil {
			return err
		}
		if f.Phoff, err = r.Uint64(32, "e_phoff"); err != nil {
			return err
		}
		if f.Shoff, err = r.Uint64(40, "e_shoff"); err != nil {
			return err
		}
		if f.Flags, err = r.Uint32(48, "e_flags"); err != nil {
			return err
		}
		if f.Phentsize, err = r.Uint16(54, "e_phentsize"); err != nil {
			return err
		}
		if f.Phnum, err = r.Uint16(56, "e_phnum"); err != nil {
			return err
		}
		if f.Shentsize, err = r.Uint16(58, "e_shentsize"); err != nil {
			return err
		}
		if f.Shnum, err = r.Uint16(60, "e_shnum"); err != nil {
			return err
		}
		if f.Shstrndx, err = r.Uint16(62, "e_shstrndx"); err != nil {
			return err
		}
	} else {
		e32, err := r.Uint32(24, "e_entry")
		if err != nil {
			return err
		}
		f.Entry = uint64(e32)
		ph32, err := r.Uint32(28, "e_phoff")
		if err != nil {
			return err
		}
		f.Phoff = uint64(ph32)
		sh32, err := r.Uint32(32, "e_shoff")
		if err != nil {
			return err
		}
		f.Shoff = uint64(sh32)
		if f.Flags, err = r.Uint32(36, "e_flags"); err != nil {
			return err
		}
		if f.Phentsize, err = r.Uint16(42, "e_phentsize"); err != nil {
			return err
		}
		if f.Phnum, err = r.Uint16(44, "e_phnum"); err != nil {
			return err
		}
		if f.Shentsize, err = r.Uint16(46, "e_shentsize"); err != nil {
			return err
		}
		if f.Shnum, err = r.Uint16(48, "e_shnum"); err != nil {
			return err
		}
		if f.Shstrndx, err = r.Uint16(50, "e_shstrndx"); err != nil {
			return err
		}
	}

	minPhent := uint16(progEntSize32)
	if f.Class == Class64 {
		minPhent = progEntSize64
	}
	if f.Phnum > 0 {
		if f.Phentsize < minPhent {
			return types.Errorf(types.ErrMalformedHeader, int64(f.Phoff), "e_phentsize", f.Phentsize)
		}
		t, err := f.r.Table(f.Phoff, uint64(f.Phnum), uint64(f.Phentsize), "program header table")
		if err != nil {
			return err
		}
		f.progs = t
	}
	return nil
}

func (f *File) parseSections() error {
	if f.Shnum == 0 {
		return nil
	}
	minShent := uint16(sectionEntSize32)
	if f.Class == Class64 {
		minShent = sectionEntSize64
	}
	if f.Shentsize < minShent {
		return types.Errorf(types.ErrMalformedHeader, int64(f.Shoff), "e_shentsize", f.Shentsize)
	}
	t, err := f.r.Table(f.Shoff, uint64(f.Shnum), uint64(f.Shentsize), "section header table")
	if err != nil {
		return err
	}

	f.sections = make([]SectionHeader, f.Shnum)
	for i := range f.sections {
		sh := &f.sections[i]
		sh.Index = i
		e := t.Entry(i)
		ty, _ := e.Uint32(4, "sh_type")
		sh.Type = SectionType(ty)
		if f.Class == Class64 {
			sh.NameIndex, _ = e.Uint32(0, "sh_name")
			sh.Flags, _ = e.Uint64(8, "sh_flags")
			sh.Addr, _ = e.Uint64(16, "sh_addr")
			sh.Offset, _ = e.Uint64(24, "sh_offset")
			sh.Size, _ = e.Uint64(32, "sh_size")
			sh.Link, _ = e.Uint32(40, "sh_link")
			sh.Info, _ = e.Uint32(44, "sh_info")
			sh.Addralign, _ = e.Uint64(48, "sh_addralign")
			sh.Entsize, _ = e.Uint64(56, "sh_entsize")
		} else {
			sh.NameIndex, _ = e.Uint32(0, "sh_name")
			v, _ := e.Uint32(8, "sh_flags")
			sh.Flags = uint64(v)
			v, _ = e.Uint32(12, "sh_addr")
			sh.Addr = uint64(v)
			v, _ = e.Uint32(16, "sh_offset")
			sh.Offset = uint64(v)
			v, _ = e.Uint32(20, "sh_size")
			sh.Size = uint64(v)
			sh.Link, _ = e.Uint32(24, "sh_link")
			sh.Info, _ = e.Uint32(28, "sh_info")
			v, _ = e.Uint32(32, "sh_addralign")
			sh.Addralign = uint64(v)
			v, _ = e.Uint32(36, "sh_entsize")
			sh.Entsize = uint64(v)
		}
	}

	// Resolve section names through the designated string table section.
	if int(f.Shstrndx) >= len(f.sections) {
		return types.Errorf(types.ErrMalformedHeader, 0, "e_shstrndx", f.Shstrndx)
	}
	shstr := &f.sections[f.Shstrndx]
	if shstr.Type == SHT_NOBITS {
		return types.Errorf(types.ErrMalformedHeader, int64(shstr.Offset), "section name string table type", shstr.Type)
	}
	strs, err := f.r.Bytes(shstr.Offset, shstr.Size, "section name string table")
	if err != nil {
		return err
	}
	sr := raw.NewReader(strs, f.r.ByteOrder())
	for i := range f.sections {
		sh := &f.sections[i]
		name, err := sr.CString(uint64(sh.NameIndex), "sh_name")
		if err != nil {
			return err
		}
		sh.Name = name
	}
	return nil
}

func (f *File) parseSymtab() error {
	idx := -1
	for i := range f.sections {
		if f.sections[i].Type == SHT_SYMTAB {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i := range f.sections {
			if f.sections[i].Type == SHT_DYNSYM {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil
	}
	sh := &f.sections[idx]

	minEnt := uint64(symEntSize32)
	if f.Class == Class64 {
		minEnt = symEntSize64
	}
	if sh.Entsize < minEnt {
		return types.Errorf(types.ErrMalformedHeader, int64(sh.Offset), "symbol table sh_entsize", sh.Entsize)
	}
	tab, err := f.r.Table(sh.Offset, sh.Size/sh.Entsize, sh.Entsize, "symbol table")
	if err != nil {
		return err
	}
	if int(sh.Link) >= len(f.sections) {
		return types.Errorf(types.ErrMalformedHeader, int64(sh.Offset), "symbol table sh_link", sh.Link)
	}
	str := &f.sections[sh.Link]
	strtab, err := f.r.Bytes(str.Offset, str.Size, "symbol string table")
	if err != nil {
		return err
	}
	f.symtab = symtabRef{tab: tab, strtab: strtab, present: true}
	return nil
}

func (f *File) parseRelocTables() error {
	for i := range f.sections {
		sh := &f.sections[i]
		if sh.Type != SHT_REL && sh.Type != SHT_RELA {
			continue
		}
		rela := sh.Type == SHT_RELA
		minEnt := relocEntSize(f.Class, rela)
		if sh.Entsize < minEnt {
			return types.Errorf(types.ErrMalformedHeader, int64(sh.Offset), "relocation sh_entsize", sh.Entsize)
		}
		tab, err := f.r.Table(sh.Offset, sh.Size/sh.Entsize, sh.Entsize, "relocation table")
		if err != nil {
			return err
		}
		f.relocs = append(f.relocs, relocTable{target: int(sh.Info), tab: tab, rela: rela})
	}
	return nil
}

func relocEntSize(c Class, rela bool) uint64 {
	if c == Class64 {
		if rela {
			return 24
		}
		return 16
	}
	if rela {
		return 12
	}
	return 8
}

// Format returns Elf32 or Elf64.
func (f *File) Format() types.FormatKind {
	if f.Class == Class64 {
		return types.Elf64
	}
	return types.Elf32
}

// Endianness returns the file's byte order.
func (f *File) Endianness() types.Endianness {
	if f.Data == Data2MSB {
		return types.BigEndian
	}
	return types.LittleEndian
}

// Arch maps e_machine onto a normalized Machine.
func (f *File) Arch() types.Machine {
	switch f.Machine {
	case EM_386:
		return types.MachineX86
	case EM_X86_64:
		return types.MachineX86_64
	case EM_ARM:
		return types.MachineArm
	case EM_AARCH64:
		return types.MachineArm64
	case EM_PPC:
		return types.MachinePPC
	case EM_PPC64:
		return types.MachinePPC64
	case EM_MIPS:
		return types.MachineMips
	case EM_RISCV:
		if f.Class == Class64 {
			return types.MachineRiscV64
		}
	}
	return types.MachineOther
}

// EntryPoint returns e_entry.
func (f *File) EntryPoint() uint64 { return f.Entry }

// Segments decodes the program header table. Each record is recomputed
// from the buffer; the table region was validated at parse time.
func (f *File) Segments() []types.Segment {
	segs := make([]types.Segment, 0, f.progs.Count())
	for i := 0; i < f.progs.Count(); i++ {
		e := f.progs.Entry(i)
		var s types.Segment
		ty, _ := e.Uint32(0, "p_type")
		var flags uint32
		if f.Class == Class64 {
			flags, _ = e.Uint32(4, "p_flags")
			s.Offset, _ = e.Uint64(8, "p_offset")
			s.Addr, _ = e.Uint64(16, "p_vaddr")
			s.Filesz, _ = e.Uint64(32, "p_filesz")
			s.Memsz, _ = e.Uint64(40, "p_memsz")
			s.Align, _ = e.Uint64(48, "p_align")
		} else {
			v, _ := e.Uint32(4, "p_offset")
			s.Offset = uint64(v)
			v, _ = e.Uint32(8, "p_vaddr")
			s.Addr = uint64(v)
			v, _ = e.Uint32(16, "p_filesz")
			s.Filesz = uint64(v)
			v, _ = e.Uint32(20, "p_memsz")
			s.Memsz = uint64(v)
			flags, _ = e.Uint32(24, "p_flags")
			v, _ = e.Uint32(28, "p_align")
			s.Align = uint64(v)
		}
		s.Name = ProgType(ty).String()
		var prot types.Prot
		if flags&PF_R != 0 {
			prot |= 0x1
		}
		if flags&PF_W != 0 {
			prot |= 0x2
		}
		if flags&PF_X != 0 {
			prot |= 0x4
		}
		s.Prot = prot
		segs = append(segs, s)
	}
	return segs
}

// NumSections returns the number of section header entries.
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
		Addr:   sh.Addr,
		Offset: sh.Offset,
		Size:   sh.Size,
		Kind:   sh.kind(),
		Align:  sh.Addralign,
	}, nil
}

func (sh *SectionHeader) kind() types.SectionKind {
	switch sh.Type {
	case SHT_NOBITS:
		return types.SectionBss
	case SHT_STRTAB:
		return types.SectionStrings
	case SHT_SYMTAB, SHT_DYNSYM, SHT_REL, SHT_RELA, SHT_HASH, SHT_DYNAMIC, SHT_NOTE:
		return types.SectionMetadata
	case SHT_PROGBITS:
		if strings.HasPrefix(sh.Name, ".debug") || strings.HasPrefix(sh.Name, ".zdebug") {
			return types.SectionDebug
		}
		if sh.Flags&SHF_EXECINSTR != 0 {
			return types.SectionText
		}
		return types.SectionData
	}
	return types.SectionUnknown
}

// SectionData returns the file bytes of section i as a view into the
// input buffer. SHT_NOBITS sections have no file bytes.
func (f *File) SectionData(i int) ([]byte, error) {
	sh, err := f.SectionByIndex(i)
	if err != nil {
		return nil, err
	}
	if sh.Type == SHT_NOBITS {
		return nil, nil
	}
	return f.r.Bytes(sh.Offset, sh.Size, "section data")
}

// NumSymbols returns the number of symbol table entries.
func (f *File) NumSymbols() int {
	if !f.symtab.present {
		return 0
	}
	return f.symtab.tab.Count()
}

// Symbol decodes entry i of the symbol table. A corrupt name offset is
// reported for that entry only; neighbouring entries stay readable.
func (f *File) Symbol(i int) (types.Symbol, error) {
	if i < 0 || i >= f.NumSymbols() {
		return types.Symbol{}, types.Errorf(types.ErrOutOfBounds, 0, "symbol index", i)
	}
	e := f.symtab.tab.Entry(i)
	nameIdx, _ := e.Uint32(0, "st_name")
	var value, size uint64
	var info uint8
	var shndx uint16
	if f.Class == Class64 {
		info, _ = e.Uint8(4, "st_info")
		shndx, _ = e.Uint16(6, "st_shndx")
		value, _ = e.Uint64(8, "st_value")
		size, _ = e.Uint64(16, "st_size")
	} else {
		v, _ := e.Uint32(4, "st_value")
		value = uint64(v)
		v, _ = e.Uint32(8, "st_size")
		size = uint64(v)
		info, _ = e.Uint8(12, "st_info")
		shndx, _ = e.Uint16(14, "st_shndx")
	}

	sr := raw.NewReader(f.symtab.strtab, f.r.ByteOrder())
	name, err := sr.CString(uint64(nameIdx), "st_name")
	if err != nil {
		return types.Symbol{}, types.Errorf(types.ErrOutOfBounds, int64(f.symtab.tab.Offset(i)), "st_name", nameIdx)
	}

	sym := types.Symbol{
		Name:    name,
		Index:   i,
		Value:   value,
		Size:    size,
		Section: types.SectionNone,
	}
	switch info >> 4 {
	case STB_GLOBAL:
		sym.Binding = types.BindGlobal
	case STB_WEAK:
		sym.Binding = types.BindWeak
	default:
		sym.Binding = types.BindLocal
	}
	switch info & 0xf {
	case STT_FUNC:
		sym.Kind = types.SymbolFunc
	case STT_OBJECT:
		sym.Kind = types.SymbolData
	case STT_SECTION:
		sym.Kind = types.SymbolSection
	case STT_FILE:
		sym.Kind = types.SymbolFile
	default:
		sym.Kind = types.SymbolUnknown
	}
	// A dangling or reserved section index makes the symbol undefined
	// rather than tripping a bounds failure later.
	if shndx == SHN_UNDEF || shndx >= SHN_LORESERVE || int(shndx) >= len(f.sections) {
		if shndx == SHN_UNDEF && sym.Kind == types.SymbolUnknown {
			sym.Kind = types.SymbolUndefined
		}
	} else {
		sym.Section = int(shndx)
	}
	return sym, nil
}

// NumRelocs returns the number of relocation entries targeting section
// index target.
func (f *File) NumRelocs(target int) int {
	n := 0
	for i := range f.relocs {
		if f.relocs[i].target == target {
			n += f.relocs[i].tab.Count()
		}
	}
	return n
}

// Reloc decodes relocation i of section target, counting across all
// .rel/.rela sections aimed at it in table order.
func (f *File) Reloc(target, i int) (types.Relocation, error) {
	if i < 0 {
		return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "relocation index", i)
	}
	for t := range f.relocs {
		rt := &f.relocs[t]
		if rt.target != target {
			continue
		}
		if i >= rt.tab.Count() {
			i -= rt.tab.Count()
			continue
		}
		return f.decodeReloc(rt, i)
	}
	return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "relocation index", i)
}

func (f *File) decodeReloc(rt *relocTable, i int) (types.Relocation, error) {
	e := rt.tab.Entry(i)
	var rel types.Relocation
	var typeCode uint32
	if f.Class == Class64 {
		rel.Offset, _ = e.Uint64(0, "r_offset")
		info, _ := e.Uint64(8, "r_info")
		rel.SymbolIndex = int(info >> 32)
		typeCode = uint32(info)
		if rt.rela {
			a, _ := e.Uint64(16, "r_addend")
			rel.Addend = int64(a)
			rel.HasAddend = true
		}
	} else {
		v, _ := e.Uint32(0, "r_offset")
		rel.Offset = uint64(v)
		info, _ := e.Uint32(4, "r_info")
		rel.SymbolIndex = int(info >> 8)
		typeCode = info & 0xff
		if rt.rela {
			a, _ := e.Uint32(8, "r_addend")
			rel.Addend = int64(int32(a))
			rel.HasAddend = true
		}
	}
	rel.TypeCode = typeCode
	rel.Kind, rel.Size, rel.PCRel = f.relocKind(typeCode)
	return rel, nil
}

func (f *File) relocKind(code uint32) (types.RelocKind, uint8, bool) {
	switch f.Machine {
	case EM_386:
		switch code {
		case R_386_32:
			return types.RelocAbsolute, 4, false
		case R_386_PC32:
			return types.RelocRelative, 4, true
		}
	case EM_X86_64:
		switch code {
		case R_X86_64_64:
			return types.RelocAbsolute, 8, false
		case R_X86_64_PC32:
			return types.RelocRelative, 4, true
		case R_X86_64_32, R_X86_64_32S:
			return types.RelocAbsolute, 4, false
		}
	case EM_AARCH64:
		switch code {
		case R_AARCH64_ABS64:
			return types.RelocAbsolute, 8, false
		case R_AARCH64_ABS32:
			return types.RelocAbsolute, 4, false
		case R_AARCH64_PREL32:
			return types.RelocRelative, 4, true
		}
	}
	return types.RelocUnknown, 0, false
}
