package macho

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/appsworld/go-objfile/types"
)

type image struct {
	b  []byte
	bo binary.ByteOrder
}

func (m *image) u32(off int, v uint32) { m.bo.PutUint32(m.b[off:], v) }
func (m *image) u64(off int, v uint64) { m.bo.PutUint64(m.b[off:], v) }
func (m *image) put(off int, b []byte) { copy(m.b[off:], b) }

// Fixture layout for the 64-bit little-endian executable built by
// testFile64: one __TEXT segment with a __text section, two relocations,
// an LC_SYMTAB with two symbols, and an LC_MAIN.
const (
	m64Text   = 232
	m64Reloc  = 240
	m64Symoff = 256
	m64Stroff = 288
	m64Size   = m64Stroff + 15
)

var m64TextBytes = []byte{0x55, 0x48, 0x89, 0xe5, 0xe8, 0x00, 0x00, 0x00}

func testFile64() []byte {
	m := &image{b: make([]byte, m64Size), bo: binary.LittleEndian}

	m.u32(0, Magic64.Int())
	m.u32(4, CPUAmd64.Int())
	m.u32(8, 3)
	m.u32(12, 2) // MH_EXECUTE
	m.u32(16, 3)
	m.u32(20, 200)

	// LC_SEGMENT_64 __TEXT with one inline section header.
	m.u32(32, LC_SEGMENT_64.Int())
	m.u32(36, segmentCmdSize64+sectionSize64)
	m.put(40, []byte("__TEXT"))
	m.u64(56, 0x100000000)
	m.u64(64, 0x1000)
	m.u64(72, 0)
	m.u64(80, m64Size)
	m.u32(88, 7)
	m.u32(92, 5)
	m.u32(96, 1)

	m.put(104, []byte("__text"))
	m.put(120, []byte("__TEXT"))
	m.u64(136, 0x100001000)
	m.u64(144, 8)
	m.u32(152, m64Text)
	m.u32(156, 4)
	m.u32(160, m64Reloc)
	m.u32(164, 2)
	m.u32(168, S_ATTR_PURE_INSTRUCTIONS|S_ATTR_SOME_INSTRUCTIONS)

	// LC_SYMTAB.
	m.u32(184, LC_SYMTAB.Int())
	m.u32(188, 24)
	m.u32(192, m64Symoff)
	m.u32(196, 2)
	m.u32(200, m64Stroff)
	m.u32(204, 15)

	// LC_MAIN: entryoff is segment-relative within __TEXT.
	m.u32(208, LC_MAIN.Int())
	m.u32(212, 24)
	m.u64(216, m64Text)

	m.put(m64Text, m64TextBytes)

	// Non-scattered external X86_64_RELOC_BRANCH against symbol 1.
	m.u32(m64Reloc, 3)
	m.u32(m64Reloc+4, 1|1<<24|2<<25|1<<27|X86_64_RELOC_BRANCH<<28)
	// Scattered relocation: address in the low 24 bits of r_address.
	m.u32(m64Reloc+8, 1<<31|3<<28|X86_64_RELOC_UNSIGNED<<24|0x10)
	m.u32(m64Reloc+12, 0x100001000&0xffffffff)

	// nlist64 entries: "_main" in section 1, "_printf" undefined.
	m.u32(m64Symoff, 1)
	m.b[m64Symoff+4] = N_SECT | N_EXT
	m.b[m64Symoff+5] = 1
	m.u64(m64Symoff+8, 0x100001000)
	m.u32(m64Symoff+16, 7)
	m.b[m64Symoff+20] = N_EXT

	m.put(m64Stroff, []byte("\x00_main\x00_printf\x00"))
	return m.b
}

func TestParseFile64(t *testing.T) {
	f, err := Parse(testFile64())
	if err != nil {
		t.Fatal(err)
	}

	if f.Format() != types.MachO64 {
		t.Errorf("Format = %v, want %v", f.Format(), types.MachO64)
	}
	if f.Endianness() != types.LittleEndian {
		t.Errorf("Endianness = %v, want little-endian", f.Endianness())
	}
	if f.Arch() != types.MachineX86_64 {
		t.Errorf("Arch = %v, want x86_64", f.Arch())
	}
	if want := uint64(0x100000000 + m64Text); f.EntryPoint() != want {
		t.Errorf("EntryPoint = %#x, want %#x", f.EntryPoint(), want)
	}

	wantSegs := []types.Segment{{
		Name:   "__TEXT",
		Addr:   0x100000000,
		Offset: 0,
		Filesz: m64Size,
		Memsz:  0x1000,
		Prot:   5,
	}}
	if diff := cmp.Diff(wantSegs, f.Segments()); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}

	if f.NumSections() != 1 {
		t.Fatalf("NumSections = %d, want 1", f.NumSections())
	}
	s, err := f.Section(0)
	if err != nil {
		t.Fatal(err)
	}
	wantSec := types.Section{
		Name:   "__text",
		Index:  0,
		Addr:   0x100001000,
		Offset: m64Text,
		Size:   8,
		Kind:   types.SectionText,
		Align:  16,
	}
	if diff := cmp.Diff(wantSec, s); diff != "" {
		t.Errorf("Section(0) mismatch (-want +got):\n%s", diff)
	}

	data := testFile64()
	f2, _ := Parse(data)
	b, err := f2.SectionData(0)
	if err != nil {
		t.Fatal(err)
	}
	if &b[0] != &data[m64Text] {
		t.Error("SectionData returned a copy, want a view into the input buffer")
	}

	wantSyms := []types.Symbol{
		{Name: "_main", Index: 0, Value: 0x100001000, Binding: types.BindGlobal, Kind: types.SymbolFunc, Section: 0},
		{Name: "_printf", Index: 1, Binding: types.BindGlobal, Kind: types.SymbolUndefined, Section: types.SectionNone},
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

	if n := f.NumRelocs(0); n != 2 {
		t.Fatalf("NumRelocs(0) = %d, want 2", n)
	}
	rel, err := f.Reloc(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantRel := types.Relocation{
		Offset:      3,
		SymbolIndex: 1,
		Kind:        types.RelocRelative,
		TypeCode:    X86_64_RELOC_BRANCH,
		Size:        4,
		PCRel:       true,
	}
	if diff := cmp.Diff(wantRel, rel); diff != "" {
		t.Errorf("Reloc(0, 0) mismatch (-want +got):\n%s", diff)
	}

	// The scattered form has no symbol table reference.
	rel, err = f.Reloc(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	wantRel = types.Relocation{
		Offset:      0x10,
		SymbolIndex: -1,
		Kind:        types.RelocAbsolute,
		TypeCode:    X86_64_RELOC_UNSIGNED,
		Size:        8,
	}
	if diff := cmp.Diff(wantRel, rel); diff != "" {
		t.Errorf("Reloc(0, 1) mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBigEndian32(t *testing.T) {
	m := &image{b: make([]byte, fileHeaderSize32), bo: binary.BigEndian}
	m.u32(0, Magic32.Int())
	m.u32(4, CPUPpc.Int())
	m.u32(12, 2)

	f, err := Parse(m.b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Format() != types.MachO32 {
		t.Errorf("Format = %v, want %v", f.Format(), types.MachO32)
	}
	if f.Endianness() != types.BigEndian {
		t.Errorf("Endianness = %v, want big-endian", f.Endianness())
	}
	if f.Arch() != types.MachinePPC {
		t.Errorf("Arch = %v, want ppc", f.Arch())
	}
}

func TestSymbolBadNameOffset(t *testing.T) {
	b := testFile64()
	// Point the second symbol's n_strx past the end of the string table.
	binary.LittleEndian.PutUint32(b[m64Symoff+16:], 100)

	f, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Symbol(1); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Symbol(1) = %v, want ErrOutOfBounds", err)
	}
	if sym, err := f.Symbol(0); err != nil || sym.Name != "_main" {
		t.Errorf("Symbol(0) = %+v, %v; want _main, nil", sym, err)
	}
}

func TestParseErrors(t *testing.T) {
	corrupt := func(mod func(b []byte)) []byte {
		b := testFile64()
		mod(b)
		return b
	}
	fat := make([]byte, 8)
	binary.BigEndian.PutUint32(fat, MagicFat.Int())

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, types.ErrOutOfBounds},
		{"short magic", []byte{0xcf}, types.ErrOutOfBounds},
		{"unknown magic", []byte{1, 2, 3, 4, 5, 6, 7, 8}, types.ErrUnknownFormat},
		{"fat magic", fat, types.ErrUnsupportedVariant},
		{"sizeofcmds past end", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint32(b[20:], 1<<24)
		}), types.ErrOutOfBounds},
		{"command size too small", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint32(b[36:], 4)
		}), types.ErrMalformedHeader},
		{"nsects past command", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint32(b[96:], 1000)
		}), types.ErrMalformedHeader},
		{"reloff past end", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint32(b[160:], 1<<28)
		}), types.ErrOutOfBounds},
		{"symoff past end", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint32(b[192:], 1<<28)
		}), types.ErrOutOfBounds},
	}
	for _, tt := range tests {
		_, err := Parse(tt.data)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: Parse = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestParseTruncated(t *testing.T) {
	data := testFile64()
	for n := 0; n < len(data); n += 5 {
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

func testFatFile() []byte {
	inner := testFile64()
	b := make([]byte, 48+2*len(inner))
	be := binary.BigEndian
	be.PutUint32(b[0:], MagicFat.Int())
	be.PutUint32(b[4:], 2)

	arch := func(off int, cpu CPU, payload uint32) {
		be.PutUint32(b[off:], cpu.Int())
		be.PutUint32(b[off+4:], 3)
		be.PutUint32(b[off+8:], payload)
		be.PutUint32(b[off+12:], uint32(len(inner)))
		be.PutUint32(b[off+16:], 4)
	}
	arch(8, CPUAmd64, 48)
	arch(28, CPUAmd64, uint32(48+len(inner)))
	copy(b[48:], inner)
	copy(b[48+len(inner):], inner)
	return b
}

func TestParseFat(t *testing.T) {
	ff, err := ParseFat(testFatFile())
	if err != nil {
		t.Fatal(err)
	}
	if len(ff.Arches) != 2 {
		t.Fatalf("len(Arches) = %d, want 2", len(ff.Arches))
	}
	if ff.Arches[0].CPU != CPUAmd64 || ff.Arches[0].Align != 4 {
		t.Errorf("Arches[0] = %+v", ff.Arches[0])
	}

	f, err := ff.Slice(0)
	if err != nil {
		t.Fatal(err)
	}
	if f.Format() != types.MachO64 {
		t.Errorf("Slice(0).Format = %v, want %v", f.Format(), types.MachO64)
	}
	if sym, err := f.Symbol(0); err != nil || sym.Name != "_main" {
		t.Errorf("Slice(0).Symbol(0) = %+v, %v; want _main, nil", sym, err)
	}

	if _, err := ff.Slice(2); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Slice(2) = %v, want ErrOutOfBounds", err)
	}
}

func TestParseFatErrors(t *testing.T) {
	zeroArch := testFatFile()
	binary.BigEndian.PutUint32(zeroArch[4:], 0)
	shortPayload := testFatFile()
	binary.BigEndian.PutUint32(shortPayload[20:], 1<<30)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, types.ErrOutOfBounds},
		{"not fat", testFile64(), types.ErrUnknownFormat},
		{"zero arches", zeroArch, types.ErrMalformedHeader},
		{"payload past end", shortPayload, types.ErrOutOfBounds},
	}
	for _, tt := range tests {
		_, err := ParseFat(tt.data)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: ParseFat = %v, want %v", tt.name, err, tt.want)
		}
	}
}
