// Package wasm decodes WebAssembly modules: the length-prefixed section
// sequence, and — for object files produced by linking-aware toolchains —
// the "linking" and "reloc.*" custom sections that carry symbols,
// segments, and relocations. Modules without linking metadata decode to
// legitimately empty symbol and relocation tables.
package wasm

import (
	"encoding/binary"
	"strings"

	"github.com/appsworld/go-objfile/internal/raw"
	"github.com/appsworld/go-objfile/types"
)

// A Section is one entry of the module's section sequence. For custom
// sections, Offset and Size describe the contents after the name field.
type Section struct {
	ID     SectionID
	Name   string
	Index  int
	Offset uint64
	Size   uint64
}

type dataSegment struct {
	addr    uint64
	offset  uint64
	size    uint64
	passive bool
}

type segmentInfo struct {
	name  string
	align uint32
}

// A File represents a decoded Wasm module. It borrows the input buffer
// and never mutates it.
type File struct {
	Version uint32

	r         raw.Reader
	sections  []Section
	symbols   []types.Symbol
	segments  []types.Segment
	relocs    map[int][]types.Relocation
	startFunc uint32
	hasStart  bool
}

// Parse decodes the Wasm module in data.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, types.Errorf(types.ErrOutOfBounds, 0, "magic", len(data))
	}
	if string(data[0:4]) != wasmMagic {
		return nil, types.Errorf(types.ErrUnknownFormat, 0, "magic", data[0:4])
	}
	f := &File{r: raw.NewReader(data, binary.LittleEndian)}
	f.Version = binary.LittleEndian.Uint32(data[4:8])
	if f.Version != wasmVersion {
		return nil, types.Errorf(types.ErrUnsupportedVariant, 4, "version", f.Version)
	}
	f.relocs = make(map[int][]types.Relocation)

	if err := f.parseSections(); err != nil {
		return nil, err
	}
	if err := f.parseMetadata(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parseSections() error {
	c := &cursor{r: f.r, pos: 8}
	for c.pos < f.r.Len() {
		id, err := c.byte("section id")
		if err != nil {
			return err
		}
		size, err := c.uleb32("section size")
		if err != nil {
			return err
		}
		start := c.pos
		if _, err := f.r.Bytes(start, uint64(size), "section contents"); err != nil {
			return err
		}
		end := start + uint64(size)

		s := Section{ID: SectionID(id), Index: len(f.sections), Offset: start, Size: uint64(size)}
		if s.ID == SectionCustom {
			name, err := c.name("custom section name")
			if err != nil {
				return err
			}
			if c.pos > end {
				return types.Errorf(types.ErrMalformedHeader, int64(start), "custom section name length", name)
			}
			s.Name = name
			s.Offset = c.pos
			s.Size = end - c.pos
		} else {
			s.Name = s.ID.String()
		}
		f.sections = append(f.sections, s)
		c.pos = end
	}
	return nil
}

func (f *File) parseMetadata() error {
	var segInfos []segmentInfo
	var dataSegs []dataSegment

	for i := range f.sections {
		s := &f.sections[i]
		switch {
		case s.ID == SectionStart:
			c := f.sectionCursor(s)
			v, err := c.uleb32("start function index")
			if err != nil {
				return err
			}
			f.startFunc, f.hasStart = v, true
		case s.ID == SectionData:
			segs, err := f.parseDataSection(s)
			if err != nil {
				return err
			}
			dataSegs = segs
		}
	}
	for i := range f.sections {
		s := &f.sections[i]
		if s.ID != SectionCustom {
			continue
		}
		switch {
		case s.Name == "linking":
			infos, err := f.parseLinking(s)
			if err != nil {
				return err
			}
			segInfos = infos
		case strings.HasPrefix(s.Name, "reloc."):
			if err := f.parseRelocSection(s); err != nil {
				return err
			}
		}
	}

	// Loadable segments exist only as linking metadata joined with the
	// data section's segment records.
	for i, info := range segInfos {
		seg := types.Segment{
			Name:  info.name,
			Prot:  0x1 | 0x2,
			Align: uint64(1) << info.align,
		}
		if i < len(dataSegs) {
			seg.Addr = dataSegs[i].addr
			seg.Offset = dataSegs[i].offset
			seg.Filesz = dataSegs[i].size
			seg.Memsz = dataSegs[i].size
		}
		f.segments = append(f.segments, seg)
	}
	return nil
}

func (f *File) sectionCursor(s *Section) *cursor {
	return &cursor{r: f.r, pos: s.Offset, end: s.Offset + s.Size}
}

func (f *File) parseDataSection(s *Section) ([]dataSegment, error) {
	c := f.sectionCursor(s)
	count, err := c.uleb32("data segment count")
	if err != nil {
		return nil, err
	}
	var segs []dataSegment
	for i := uint32(0); i < count; i++ {
		flags, err := c.uleb32("data segment flags")
		if err != nil {
			return nil, err
		}
		var seg dataSegment
		switch flags {
		case 0:
			seg.addr, err = c.constExpr("data segment offset expr")
		case 1:
			seg.passive = true
		case 2:
			if _, err = c.uleb32("data segment memory index"); err == nil {
				seg.addr, err = c.constExpr("data segment offset expr")
			}
		default:
			err = types.Errorf(types.ErrMalformedHeader, int64(c.pos), "data segment flags", flags)
		}
		if err != nil {
			return nil, err
		}
		n, err := c.uleb32("data segment size")
		if err != nil {
			return nil, err
		}
		seg.offset = c.pos
		seg.size = uint64(n)
		if err := c.skip(uint64(n), "data segment bytes"); err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func (f *File) parseLinking(s *Section) ([]segmentInfo, error) {
	c := f.sectionCursor(s)
	version, err := c.uleb32("linking version")
	if err != nil {
		return nil, err
	}
	if version != linkingVersion {
		// A newer metadata layout; leave symbols and segments empty
		// rather than misreading it.
		return nil, nil
	}

	var infos []segmentInfo
	for c.pos < c.end {
		typ, err := c.byte("linking subsection type")
		if err != nil {
			return nil, err
		}
		size, err := c.uleb32("linking subsection size")
		if err != nil {
			return nil, err
		}
		next := c.pos + uint64(size)
		if next > c.end {
			return nil, types.Errorf(types.ErrOutOfBounds, int64(c.pos), "linking subsection size", size)
		}
		switch typ {
		case WASM_SYMBOL_TABLE:
			if err := f.parseSymbolTable(c); err != nil {
				return nil, err
			}
		case WASM_SEGMENT_INFO:
			infos, err = f.parseSegmentInfo(c)
			if err != nil {
				return nil, err
			}
		}
		c.pos = next
	}
	return infos, nil
}

func (f *File) parseSegmentInfo(c *cursor) ([]segmentInfo, error) {
	count, err := c.uleb32("segment info count")
	if err != nil {
		return nil, err
	}
	var infos []segmentInfo
	for i := uint32(0); i < count; i++ {
		name, err := c.name("segment name")
		if err != nil {
			return nil, err
		}
		align, err := c.uleb32("segment alignment")
		if err != nil {
			return nil, err
		}
		if _, err := c.uleb32("segment flags"); err != nil {
			return nil, err
		}
		infos = append(infos, segmentInfo{name: name, align: align})
	}
	return infos, nil
}

func (f *File) parseSymbolTable(c *cursor) error {
	count, err := c.uleb32("symbol count")
	if err != nil {
		return err
	}
	// The count is untrusted; the slice grows only as entries decode.
	f.symbols = f.symbols[:0]
	for i := uint32(0); i < count; i++ {
		kind, err := c.byte("symbol kind")
		if err != nil {
			return err
		}
		flags, err := c.uleb32("symbol flags")
		if err != nil {
			return err
		}

		sym := types.Symbol{Index: int(i), Section: types.SectionNone}
		switch flags & (WASM_SYM_BINDING_WEAK | WASM_SYM_BINDING_LOCAL) {
		case WASM_SYM_BINDING_WEAK:
			sym.Binding = types.BindWeak
		case WASM_SYM_BINDING_LOCAL:
			sym.Binding = types.BindLocal
		default:
			sym.Binding = types.BindGlobal
		}
		undefined := flags&WASM_SYM_UNDEFINED != 0

		switch kind {
		case SYMTAB_FUNCTION, SYMTAB_GLOBAL, SYMTAB_EVENT, SYMTAB_TABLE:
			idx, err := c.uleb32("symbol target index")
			if err != nil {
				return err
			}
			sym.Value = uint64(idx)
			if !undefined || flags&WASM_SYM_EXPLICIT_NAME != 0 {
				if sym.Name, err = c.name("symbol name"); err != nil {
					return err
				}
			}
			if kind == SYMTAB_FUNCTION {
				sym.Kind = types.SymbolFunc
				if !undefined {
					sym.Section = f.sectionIndexOf(SectionCode)
				}
			} else {
				sym.Kind = types.SymbolData
			}
		case SYMTAB_DATA:
			if sym.Name, err = c.name("symbol name"); err != nil {
				return err
			}
			sym.Kind = types.SymbolData
			if !undefined {
				if _, err := c.uleb32("symbol segment index"); err != nil {
					return err
				}
				off, err := c.uleb32("symbol offset")
				if err != nil {
					return err
				}
				size, err := c.uleb32("symbol size")
				if err != nil {
					return err
				}
				sym.Value = uint64(off)
				sym.Size = uint64(size)
				sym.Section = f.sectionIndexOf(SectionData)
			}
		case SYMTAB_SECTION:
			idx, err := c.uleb32("symbol section index")
			if err != nil {
				return err
			}
			sym.Kind = types.SymbolSection
			if int(idx) < len(f.sections) {
				sym.Section = int(idx)
				sym.Name = f.sections[idx].Name
			}
		default:
			return types.Errorf(types.ErrMalformedHeader, int64(c.pos), "symbol kind", kind)
		}
		if undefined {
			sym.Kind = types.SymbolUndefined
		}
		f.symbols = append(f.symbols, sym)
	}
	return nil
}

func (f *File) parseRelocSection(s *Section) error {
	c := f.sectionCursor(s)
	target, err := c.uleb32("relocation target section")
	if err != nil {
		return err
	}
	count, err := c.uleb32("relocation count")
	if err != nil {
		return err
	}
	var rels []types.Relocation
	for i := uint32(0); i < count; i++ {
		typ, err := c.byte("relocation type")
		if err != nil {
			return err
		}
		off, err := c.uleb32("relocation offset")
		if err != nil {
			return err
		}
		idx, err := c.uleb32("relocation index")
		if err != nil {
			return err
		}
		rel := types.Relocation{
			Offset:      uint64(off),
			SymbolIndex: int(idx),
			TypeCode:    uint32(typ),
		}
		if relocHasAddend(typ) {
			a, err := c.sleb64("relocation addend")
			if err != nil {
				return err
			}
			rel.Addend = a
			rel.HasAddend = true
		}
		rel.Kind, rel.Size, rel.PCRel = relocKind(typ)
		rels = append(rels, rel)
	}
	f.relocs[int(target)] = rels
	return nil
}

func (f *File) sectionIndexOf(id SectionID) int {
	for i := range f.sections {
		if f.sections[i].ID == id {
			return i
		}
	}
	return types.SectionNone
}

// Format returns Wasm.
func (f *File) Format() types.FormatKind { return types.Wasm }

// Endianness returns LittleEndian; Wasm fixes the byte order.
func (f *File) Endianness() types.Endianness { return types.LittleEndian }

// Arch returns MachineWasm32.
func (f *File) Arch() types.Machine { return types.MachineWasm32 }

// EntryPoint returns zero; a module's start function is an index, not an
// address. Use Start for the index.
func (f *File) EntryPoint() uint64 { return 0 }

// Start returns the start section's function index, if the module has
// one.
func (f *File) Start() (uint32, bool) { return f.startFunc, f.hasStart }

// Segments returns data segments synthesized from linking metadata, or
// nothing when the module carries none.
func (f *File) Segments() []types.Segment {
	segs := make([]types.Segment, len(f.segments))
	copy(segs, f.segments)
	return segs
}

// NumSections returns the number of sections in the module sequence.
func (f *File) NumSections() int { return len(f.sections) }

// SectionByIndex returns section i of the module sequence.
func (f *File) SectionByIndex(i int) (*Section, error) {
	if i < 0 || i >= len(f.sections) {
		return nil, types.Errorf(types.ErrOutOfBounds, 0, "section index", i)
	}
	return &f.sections[i], nil
}

// Section returns the normalized view of section i.
func (f *File) Section(i int) (types.Section, error) {
	s, err := f.SectionByIndex(i)
	if err != nil {
		return types.Section{}, err
	}
	return types.Section{
		Name:   s.Name,
		Index:  i,
		Offset: s.Offset,
		Size:   s.Size,
		Kind:   s.kind(),
	}, nil
}

func (s *Section) kind() types.SectionKind {
	switch s.ID {
	case SectionCode:
		return types.SectionText
	case SectionData:
		return types.SectionData
	case SectionCustom:
		if strings.HasPrefix(s.Name, ".debug_") {
			return types.SectionDebug
		}
		return types.SectionMetadata
	}
	return types.SectionMetadata
}

// SectionData returns the contents of section i as a view into the input
// buffer.
func (f *File) SectionData(i int) ([]byte, error) {
	s, err := f.SectionByIndex(i)
	if err != nil {
		return nil, err
	}
	return f.r.Bytes(s.Offset, s.Size, "section contents")
}

// NumSymbols returns the number of linking symbol table entries.
func (f *File) NumSymbols() int { return len(f.symbols) }

// Symbol returns entry i of the linking symbol table.
func (f *File) Symbol(i int) (types.Symbol, error) {
	if i < 0 || i >= len(f.symbols) {
		return types.Symbol{}, types.Errorf(types.ErrOutOfBounds, 0, "symbol index", i)
	}
	return f.symbols[i], nil
}

// NumRelocs returns the number of relocations targeting section i.
func (f *File) NumRelocs(section int) int { return len(f.relocs[section]) }

// Reloc returns relocation i of section.
func (f *File) Reloc(section, i int) (types.Relocation, error) {
	rels := f.relocs[section]
	if i < 0 || i >= len(rels) {
		return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "relocation index", i)
	}
	return rels[i], nil
}

// A cursor walks variable-length encoded fields with every advance
// checked against its window.
type cursor struct {
	r   raw.Reader
	pos uint64
	end uint64 // 0 means the whole buffer
}

func (c *cursor) limit() uint64 {
	if c.end != 0 {
		return c.end
	}
	return c.r.Len()
}

func (c *cursor) byte(field string) (uint8, error) {
	if c.pos >= c.limit() {
		return 0, types.Errorf(types.ErrOutOfBounds, int64(c.pos), field, nil)
	}
	b, err := c.r.Uint8(c.pos, field)
	if err != nil {
		return 0, err
	}
	c.pos++
	return b, nil
}

func (c *cursor) skip(n uint64, field string) error {
	if c.pos+n > c.limit() || c.pos+n < c.pos {
		return types.Errorf(types.ErrOutOfBounds, int64(c.pos), field, n)
	}
	c.pos += n
	return nil
}

// uleb32 reads an unsigned LEB128 value of at most 32 bits.
func (c *cursor) uleb32(field string) (uint32, error) {
	var v uint32
	var shift uint
	for {
		b, err := c.byte(field)
		if err != nil {
			return 0, err
		}
		if shift >= 32 {
			return 0, types.Errorf(types.ErrMalformedHeader, int64(c.pos), field, "uleb128 too long")
		}
		// Only 32-shift payload bits fit in the last group.
		if shift == 28 && b&0x70 != 0 {
			return 0, types.Errorf(types.ErrMalformedHeader, int64(c.pos), field, "uleb128 overflows uint32")
		}
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// sleb64 reads a signed LEB128 value of at most 64 bits.
func (c *cursor) sleb64(field string) (int64, error) {
	var v int64
	var shift uint
	for {
		b, err := c.byte(field)
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, types.Errorf(types.ErrMalformedHeader, int64(c.pos), field, "sleb128 too long")
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, nil
		}
	}
}

// name reads a length-prefixed UTF-8 string.
func (c *cursor) name(field string) (string, error) {
	n, err := c.uleb32(field)
	if err != nil {
		return "", err
	}
	start := c.pos
	if err := c.skip(uint64(n), field); err != nil {
		return "", err
	}
	b, err := c.r.Bytes(start, uint64(n), field)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// constExpr reads an "i32.const N end" initializer expression, the only
// offset form active data segments use.
func (c *cursor) constExpr(field string) (uint64, error) {
	op, err := c.byte(field)
	if err != nil {
		return 0, err
	}
	if op != 0x41 { // i32.const
		return 0, types.Errorf(types.ErrUnsupportedVariant, int64(c.pos), field, op)
	}
	v, err := c.sleb64(field)
	if err != nil {
		return 0, err
	}
	endOp, err := c.byte(field)
	if err != nil {
		return 0, err
	}
	if endOp != 0x0b { // end
		return 0, types.Errorf(types.ErrMalformedHeader, int64(c.pos), field, endOp)
	}
	return uint64(uint32(v)), nil
}
