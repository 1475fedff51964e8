// Package objfile implements portable read-only access to compiled
// object files: ELF, Mach-O, PE/COFF, and WebAssembly modules. One File
// type exposes segments, sections, symbols, and relocations in a common
// shape regardless of which format, bit width, or byte order backs it.
//
// The package performs no I/O; Parse takes a byte slice the caller owns
// and every derived record borrows from it. Inputs are treated as
// untrusted: every offset and count is checked before use, and malformed
// files produce errors, never panics or out-of-range reads.
package objfile

import (
	"io"

	"github.com/appsworld/go-objfile/elf"
	"github.com/appsworld/go-objfile/macho"
	"github.com/appsworld/go-objfile/pe"
	"github.com/appsworld/go-objfile/types"
	"github.com/appsworld/go-objfile/wasm"
)

// rawObject is the contract each format decoder satisfies. The unified
// File forwards to it without adding validation or format special cases.
type rawObject interface {
	Format() types.FormatKind
	Endianness() types.Endianness
	Arch() types.Machine
	EntryPoint() uint64
	Segments() []types.Segment
	NumSections() int
	Section(i int) (types.Section, error)
	SectionData(i int) ([]byte, error)
	NumSymbols() int
	Symbol(i int) (types.Symbol, error)
	NumRelocs(section int) int
	Reloc(section, i int) (types.Relocation, error)
}

// A File is a decoded object file of any supported format. It borrows
// the buffer given to Parse for its whole lifetime; it is read-only and
// safe for concurrent use.
type File struct {
	raw rawObject
}

// Parse sniffs data and decodes it with the matching format decoder.
// A structurally invalid file yields an error and no File; per-record
// corruption inside otherwise valid tables is reported later, during
// iteration. Fat Mach-O containers hold several files and must go
// through ParseFat instead.
func Parse(data []byte) (*File, error) {
	kind, _, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	var raw rawObject
	switch kind {
	case types.Elf32, types.Elf64:
		raw, err = elf.Parse(data)
	case types.MachO32, types.MachO64:
		raw, err = macho.Parse(data)
	case types.MachOFat:
		return nil, types.Errorf(types.ErrUnsupportedVariant, 0, "fat Mach-O container, use ParseFat", nil)
	case types.Pe32, types.Pe64:
		raw, err = pe.Parse(data)
	case types.Wasm:
		raw, err = wasm.Parse(data)
	default:
		return nil, types.Errorf(types.ErrUnknownFormat, 0, "magic", nil)
	}
	if err != nil {
		return nil, err
	}
	return &File{raw: raw}, nil
}

// A FatFile selects among the architecture slices of a Mach-O universal
// binary. Each slice decodes to an independent File.
type FatFile struct {
	ff *macho.FatFile
}

// ParseFat decodes a fat Mach-O container.
func ParseFat(data []byte) (*FatFile, error) {
	ff, err := macho.ParseFat(data)
	if err != nil {
		return nil, err
	}
	return &FatFile{ff: ff}, nil
}

// Arches returns the per-slice descriptors in container order.
func (f *FatFile) Arches() []macho.FatArch { return f.ff.Arches }

// Slice decodes architecture slice i as a File.
func (f *FatFile) Slice(i int) (*File, error) {
	mf, err := f.ff.Slice(i)
	if err != nil {
		return nil, err
	}
	return &File{raw: mf}, nil
}

// Format returns the detected format and width.
func (f *File) Format() types.FormatKind { return f.raw.Format() }

// Endianness returns the file's byte order.
func (f *File) Endianness() types.Endianness { return f.raw.Endianness() }

// Architecture returns the normalized CPU architecture.
func (f *File) Architecture() types.Machine { return f.raw.Arch() }

// EntryPoint returns the declared entry address, or zero for files with
// no entry concept (objects, libraries, Wasm modules).
func (f *File) EntryPoint() uint64 { return f.raw.EntryPoint() }

// Segments returns the loadable regions in on-disk order. Formats
// without segments at this level return an empty slice.
func (f *File) Segments() []types.Segment { return f.raw.Segments() }

// NumSections returns the number of sections.
func (f *File) NumSections() int { return f.raw.NumSections() }

// Section returns section i in on-disk table order.
func (f *File) Section(i int) (types.Section, error) { return f.raw.Section(i) }

// SectionData returns the file contents of section i as a view into the
// input buffer. Sections without file contents (BSS and the like)
// return nil.
func (f *File) SectionData(i int) ([]byte, error) { return f.raw.SectionData(i) }

// SectionByName returns the first section with the given name.
func (f *File) SectionByName(name string) (types.Section, bool) {
	for i := 0; i < f.raw.NumSections(); i++ {
		s, err := f.raw.Section(i)
		if err == nil && s.Name == name {
			return s, true
		}
	}
	return types.Section{}, false
}

// NumSymbols returns the number of symbol table entries.
func (f *File) NumSymbols() int { return f.raw.NumSymbols() }

// Symbol returns symbol i in on-disk table order.
func (f *File) Symbol(i int) (types.Symbol, error) { return f.raw.Symbol(i) }

// SymbolByName scans the symbol table for the first symbol with the
// given name. Object files are parsed once and queried a handful of
// times; no name index is built.
func (f *File) SymbolByName(name string) (types.Symbol, bool) {
	for i := 0; i < f.raw.NumSymbols(); i++ {
		sym, err := f.raw.Symbol(i)
		if err != nil {
			continue
		}
		if sym.Name == name {
			return sym, true
		}
	}
	return types.Symbol{}, false
}

// Sections returns a fresh iterator over sections in on-disk order.
func (f *File) Sections() *SectionIterator {
	return &SectionIterator{f: f, n: f.raw.NumSections()}
}

// Symbols returns a fresh iterator over symbols in on-disk order.
func (f *File) Symbols() *SymbolIterator {
	return &SymbolIterator{f: f, n: f.raw.NumSymbols()}
}

// RelocationsFor returns a fresh iterator over the relocations that
// target the section with the given table index. Sections without
// relocations yield an immediately exhausted iterator.
func (f *File) RelocationsFor(section int) *RelocationIterator {
	return &RelocationIterator{f: f, section: section, n: f.raw.NumRelocs(section)}
}

// A SectionIterator walks the section table one record at a time. Next
// returns io.EOF after the last record.
type SectionIterator struct {
	f *File
	n int
	i int
}

func (it *SectionIterator) Next() (types.Section, error) {
	if it.i >= it.n {
		return types.Section{}, io.EOF
	}
	s, err := it.f.raw.Section(it.i)
	it.i++
	return s, err
}

// A SymbolIterator walks the symbol table one record at a time. Next
// returns io.EOF after the last record. A corrupt entry yields its error
// for that position and the iterator continues with the next one.
type SymbolIterator struct {
	f *File
	n int
	i int
}

func (it *SymbolIterator) Next() (types.Symbol, error) {
	if it.i >= it.n {
		return types.Symbol{}, io.EOF
	}
	sym, err := it.f.raw.Symbol(it.i)
	it.i++
	return sym, err
}

// A RelocationIterator walks a section's relocations one record at a
// time. Next returns io.EOF after the last record. The symbol index of
// each record is validated against the symbol table here, at resolution
// time; an out-of-range index is an error for that entry only.
type RelocationIterator struct {
	f       *File
	section int
	n       int
	i       int
}

func (it *RelocationIterator) Next() (types.Relocation, error) {
	if it.i >= it.n {
		return types.Relocation{}, io.EOF
	}
	rel, err := it.f.raw.Reloc(it.section, it.i)
	it.i++
	if err != nil {
		return types.Relocation{}, err
	}
	if rel.SymbolIndex >= it.f.raw.NumSymbols() {
		return types.Relocation{}, types.Errorf(types.ErrOutOfBounds, 0, "relocation symbol index", rel.SymbolIndex)
	}
	return rel, nil
}
