package elf

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/appsworld/go-objfile/types"
)

// image writes fixture fields at fixed offsets into a preallocated buffer.
type image struct {
	b  []byte
	bo binary.ByteOrder
}

func (m *image) u16(off int, v uint16) { m.bo.PutUint16(m.b[off:], v) }
func (m *image) u32(off int, v uint32) { m.bo.PutUint32(m.b[off:], v) }
func (m *image) u64(off int, v uint64) { m.bo.PutUint64(m.b[off:], v) }
func (m *image) put(off int, b []byte) { copy(m.b[off:], b) }

// Fixture layout offsets for the 64-bit little-endian executable built by
// testFile64. The section header table sits last so truncation tests can
// cut into it.
const (
	f64Phoff   = 64
	f64Text    = 120
	f64Rela    = 144
	f64Symtab  = 168
	f64Strtab  = 240
	f64Shstr   = 253
	f64Shoff   = 304
	f64Size    = f64Shoff + 6*64
	f64Sym2Off = f64Symtab + 2*24
)

var f64TextBytes = []byte{0x55, 0x48, 0x89, 0xe5, 0x31, 0xc0, 0x5d, 0xc3}

// testFile64 builds a small x86-64 executable with one loadable segment,
// a .text section, one RELA relocation against it, and a three-entry
// symbol table.
func testFile64() []byte {
	m := &image{b: make([]byte, f64Size), bo: binary.LittleEndian}

	m.put(0, []byte(elfMagic))
	m.b[4] = byte(Class64)
	m.b[5] = byte(Data2LSB)
	m.b[6] = 1
	m.u16(16, 2) // ET_EXEC
	m.u16(18, EM_X86_64)
	m.u32(20, 1)
	m.u64(24, 0x401000)
	m.u64(32, f64Phoff)
	m.u64(40, f64Shoff)
	m.u16(52, 64)
	m.u16(54, progEntSize64)
	m.u16(56, 1)
	m.u16(58, sectionEntSize64)
	m.u16(60, 6)
	m.u16(62, 5)

	// PT_LOAD covering the whole file, read and execute.
	m.u32(f64Phoff, uint32(PT_LOAD))
	m.u32(f64Phoff+4, PF_R|PF_X)
	m.u64(f64Phoff+8, 0)
	m.u64(f64Phoff+16, 0x400000)
	m.u64(f64Phoff+32, f64Size)
	m.u64(f64Phoff+40, f64Size)
	m.u64(f64Phoff+48, 0x1000)

	m.put(f64Text, f64TextBytes)

	// One RELA entry: R_X86_64_PC32 against symbol 2 with addend -4.
	m.u64(f64Rela, 0x401003)
	m.u64(f64Rela+8, 2<<32|R_X86_64_PC32)
	m.u64(f64Rela+16, ^uint64(3))

	// Symbols: null, "main" (global func in .text), "printf" (undefined).
	m.u32(f64Symtab+24, 1)
	m.b[f64Symtab+24+4] = STB_GLOBAL<<4 | STT_FUNC
	m.u16(f64Symtab+24+6, 1)
	m.u64(f64Symtab+24+8, 0x401000)
	m.u64(f64Symtab+24+16, 8)
	m.u32(f64Sym2Off, 6)
	m.b[f64Sym2Off+4] = STB_GLOBAL << 4
	m.u16(f64Sym2Off+6, SHN_UNDEF)

	m.put(f64Strtab, []byte("\x00main\x00printf\x00"))
	m.put(f64Shstr, []byte("\x00.text\x00.rela.text\x00.symtab\x00.strtab\x00.shstrtab\x00"))

	shdr := func(i int, name uint32, typ SectionType, flags, addr, off, size uint64, link, info uint32, align, entsize uint64) {
		base := f64Shoff + i*sectionEntSize64
		m.u32(base, name)
		m.u32(base+4, uint32(typ))
		m.u64(base+8, flags)
		m.u64(base+16, addr)
		m.u64(base+24, off)
		m.u64(base+32, size)
		m.u32(base+40, link)
		m.u32(base+44, info)
		m.u64(base+48, align)
		m.u64(base+56, entsize)
	}
	shdr(1, 1, SHT_PROGBITS, SHF_ALLOC|SHF_EXECINSTR, 0x401000, f64Text, 8, 0, 0, 16, 0)
	shdr(2, 7, SHT_RELA, 0, 0, f64Rela, 24, 3, 1, 8, 24)
	shdr(3, 18, SHT_SYMTAB, 0, 0, f64Symtab, 72, 4, 1, 8, 24)
	shdr(4, 26, SHT_STRTAB, 0, 0, f64Strtab, 13, 0, 0, 1, 0)
	shdr(5, 34, SHT_STRTAB, 0, 0, f64Shstr, 44, 0, 0, 1, 0)
	return m.b
}

func TestParseFile64(t *testing.T) {
	f, err := Parse(testFile64())
	if err != nil {
		t.Fatal(err)
	}

	if f.Format() != types.Elf64 {
		t.Errorf("Format = %v, want %v", f.Format(), types.Elf64)
	}
	if f.Endianness() != types.LittleEndian {
		t.Errorf("Endianness = %v, want little-endian", f.Endianness())
	}
	if f.Arch() != types.MachineX86_64 {
		t.Errorf("Arch = %v, want x86_64", f.Arch())
	}
	if f.EntryPoint() != 0x401000 {
		t.Errorf("EntryPoint = %#x, want 0x401000", f.EntryPoint())
	}

	wantSegs := []types.Segment{{
		Name:   "LOAD",
		Addr:   0x400000,
		Offset: 0,
		Filesz: f64Size,
		Memsz:  f64Size,
		Prot:   0x1 | 0x4,
		Align:  0x1000,
	}}
	if diff := cmp.Diff(wantSegs, f.Segments()); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}

	wantKinds := []types.SectionKind{
		types.SectionUnknown,
		types.SectionText,
		types.SectionMetadata,
		types.SectionMetadata,
		types.SectionStrings,
		types.SectionStrings,
	}
	if f.NumSections() != len(wantKinds) {
		t.Fatalf("NumSections = %d, want %d", f.NumSections(), len(wantKinds))
	}
	for i, want := range wantKinds {
		s, err := f.Section(i)
		if err != nil {
			t.Fatalf("Section(%d): %v", i, err)
		}
		if s.Kind != want {
			t.Errorf("Section(%d) %q kind = %v, want %v", i, s.Name, s.Kind, want)
		}
		if s.Index != i {
			t.Errorf("Section(%d) index = %d", i, s.Index)
		}
	}
	s, _ := f.Section(1)
	if s.Name != ".text" || s.Addr != 0x401000 || s.Size != 8 || s.Align != 16 {
		t.Errorf("Section(1) = %+v", s)
	}

	data := testFile64()
	f2, _ := Parse(data)
	b, err := f2.SectionData(1)
	if err != nil {
		t.Fatal(err)
	}
	if &b[0] != &data[f64Text] {
		t.Error("SectionData returned a copy, want a view into the input buffer")
	}

	wantSyms := []types.Symbol{
		{Name: "", Index: 0, Kind: types.SymbolUndefined, Section: types.SectionNone},
		{Name: "main", Index: 1, Value: 0x401000, Size: 8, Binding: types.BindGlobal, Kind: types.SymbolFunc, Section: 1},
		{Name: "printf", Index: 2, Binding: types.BindGlobal, Kind: types.SymbolUndefined, Section: types.SectionNone},
	}
	if f.NumSymbols() != len(wantSyms) {
		t.Fatalf("NumSymbols = %d, want %d", f.NumSymbols(), len(wantSyms))
	}
	for i, want := range wantSyms {
		sym, err := f.Symbol(i)
		if err != nil {
			t.Fatalf("Symbol(%d): %v", i, err)
		}
		if diff := cmp.Diff(want, sym); diff != "" {
			t.Errorf("Symbol(%d) mismatch (-want +got):\n%s", i, diff)
		}
	}

	if n := f.NumRelocs(1); n != 1 {
		t.Fatalf("NumRelocs(1) = %d, want 1", n)
	}
	rel, err := f.Reloc(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantRel := types.Relocation{
		Offset:      0x401003,
		SymbolIndex: 2,
		Kind:        types.RelocRelative,
		TypeCode:    R_X86_64_PC32,
		Addend:      -4,
		HasAddend:   true,
		Size:        4,
		PCRel:       true,
	}
	if diff := cmp.Diff(wantRel, rel); diff != "" {
		t.Errorf("Reloc(1, 0) mismatch (-want +got):\n%s", diff)
	}
	if n := f.NumRelocs(3); n != 0 {
		t.Errorf("NumRelocs(3) = %d, want 0", n)
	}
}

func TestParseFile32BigEndian(t *testing.T) {
	m := &image{b: make([]byte, headerSize32), bo: binary.BigEndian}
	m.put(0, []byte(elfMagic))
	m.b[4] = byte(Class32)
	m.b[5] = byte(Data2MSB)
	m.u16(16, 2)
	m.u16(18, EM_PPC)

	f, err := Parse(m.b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Format() != types.Elf32 {
		t.Errorf("Format = %v, want %v", f.Format(), types.Elf32)
	}
	if f.Endianness() != types.BigEndian {
		t.Errorf("Endianness = %v, want big-endian", f.Endianness())
	}
	if f.Arch() != types.MachinePPC {
		t.Errorf("Arch = %v, want ppc", f.Arch())
	}
	if f.NumSections() != 0 || f.NumSymbols() != 0 {
		t.Errorf("sections, symbols = %d, %d; want 0, 0", f.NumSections(), f.NumSymbols())
	}
}

func TestParseErrors(t *testing.T) {
	corrupt := func(mod func(b []byte)) []byte {
		b := testFile64()
		mod(b)
		return b
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, types.ErrOutOfBounds},
		{"short ident", make([]byte, 8), types.ErrOutOfBounds},
		{"bad magic", []byte("\x7fBAD\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"), types.ErrUnknownFormat},
		{"bad class", corrupt(func(b []byte) { b[4] = 9 }), types.ErrMalformedHeader},
		{"bad byte order", corrupt(func(b []byte) { b[5] = 0 }), types.ErrMalformedHeader},
		{"shoff past end", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint64(b[40:], 1<<40)
		}), types.ErrOutOfBounds},
		{"phentsize too small", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint16(b[54:], 8)
		}), types.ErrMalformedHeader},
		{"shentsize too small", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint16(b[58:], 8)
		}), types.ErrMalformedHeader},
		{"shstrndx out of range", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint16(b[62:], 99)
		}), types.ErrMalformedHeader},
	}
	for _, tt := range tests {
		_, err := Parse(tt.data)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: Parse = %v, want %v", tt.name, err, tt.want)
		}
	}
}

// TestParseTruncated feeds every prefix of the fixture to Parse. Each one
// must fail cleanly with a classified error; none may panic.
func TestParseTruncated(t *testing.T) {
	data := testFile64()
	for n := 0; n < len(data); n += 7 {
		_, err := Parse(data[:n])
		if err == nil {
			t.Fatalf("Parse(%d-byte prefix) succeeded, want error", n)
		}
		if !errors.Is(err, types.ErrOutOfBounds) &&
			!errors.Is(err, types.ErrMalformedHeader) &&
			!errors.Is(err, types.ErrUnknownFormat) &&
			!errors.Is(err, types.ErrUnsupportedVariant) {
			t.Fatalf("Parse(%d-byte prefix) = %v, not a classified error", n, err)
		}
	}
}

// A corrupt symbol name offset fails that entry alone; its neighbours
// stay decodable.
func TestSymbolBadNameOffset(t *testing.T) {
	data := testFile64()
	binary.LittleEndian.PutUint32(data[f64Sym2Off:], 0xfffff)
	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Symbol(2); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Symbol(2) = %v, want ErrOutOfBounds", err)
	}
	sym, err := f.Symbol(1)
	if err != nil || sym.Name != "main" {
		t.Errorf("Symbol(1) = %+v, %v; want main, nil", sym, err)
	}
}

func TestSymbolDanglingSectionIndex(t *testing.T) {
	data := testFile64()
	binary.LittleEndian.PutUint16(data[f64Symtab+24+6:], 77)
	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	sym, err := f.Symbol(1)
	if err != nil {
		t.Fatal(err)
	}
	if sym.Section != types.SectionNone {
		t.Errorf("Section = %d, want SectionNone", sym.Section)
	}
}

func TestIndexBounds(t *testing.T) {
	f, err := Parse(testFile64())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Section(-1); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Section(-1) = %v, want ErrOutOfBounds", err)
	}
	if _, err := f.Section(6); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Section(6) = %v, want ErrOutOfBounds", err)
	}
	if _, err := f.Symbol(3); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Symbol(3) = %v, want ErrOutOfBounds", err)
	}
	if _, err := f.Reloc(1, 1); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Reloc(1, 1) = %v, want ErrOutOfBounds", err)
	}
}
