package types

// Normalized record shapes shared by every decoder. All of them are
// lightweight views decoded on demand from the input buffer; none own a
// copy of payload bytes.

// A SectionKind classifies what a section holds, independent of the
// format-specific type/flags field it was derived from.
type SectionKind uint8

const (
	SectionUnknown SectionKind = iota
	SectionText
	SectionData
	SectionBss
	SectionDebug
	SectionStrings
	SectionMetadata
)

var sectionKindStrings = []IntName{
	{uint32(SectionUnknown), "unknown"},
	{uint32(SectionText), "text"},
	{uint32(SectionData), "data"},
	{uint32(SectionBss), "bss"},
	{uint32(SectionDebug), "debug"},
	{uint32(SectionStrings), "strings"},
	{uint32(SectionMetadata), "metadata"},
}

func (i SectionKind) String() string { return StringName(uint32(i), sectionKindStrings, false) }

// A SymbolBinding is the linkage scope of a symbol.
type SymbolBinding uint8

const (
	BindLocal SymbolBinding = iota
	BindGlobal
	BindWeak
)

var bindingStrings = []IntName{
	{uint32(BindLocal), "local"},
	{uint32(BindGlobal), "global"},
	{uint32(BindWeak), "weak"},
}

func (i SymbolBinding) String() string { return StringName(uint32(i), bindingStrings, false) }

// A SymbolKind classifies what a symbol names.
type SymbolKind uint8

const (
	SymbolUnknown SymbolKind = iota
	SymbolFunc
	SymbolData
	SymbolSection
	SymbolFile
	SymbolUndefined
)

var symbolKindStrings = []IntName{
	{uint32(SymbolUnknown), "unknown"},
	{uint32(SymbolFunc), "func"},
	{uint32(SymbolData), "data"},
	{uint32(SymbolSection), "section"},
	{uint32(SymbolFile), "file"},
	{uint32(SymbolUndefined), "undefined"},
}

func (i SymbolKind) String() string { return StringName(uint32(i), symbolKindStrings, false) }

// SectionNone marks a symbol that does not resolve into any section,
// either because it is undefined or because its section index was out of
// range for the file's section table.
const SectionNone = -1

// A Segment is a contiguous loadable region.
type Segment struct {
	Name   string
	Addr   uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64
	Prot   Prot
	Align  uint64
}

// A Section is a named region of the file, addressable by its table index.
type Section struct {
	Name   string
	Index  int
	Addr   uint64
	Offset uint64
	Size   uint64
	Kind   SectionKind
	Align  uint64
}

// A Symbol is one entry of a symbol table, in on-disk order. Section is
// the index of the section the symbol resolves into, or SectionNone.
type Symbol struct {
	Name    string
	Index   int
	Value   uint64
	Size    uint64
	Binding SymbolBinding
	Kind    SymbolKind
	Section int
}

// A RelocKind is a normalized relocation class. The format-specific code
// is preserved alongside it in Relocation.TypeCode; codes this package
// does not recognize map to RelocUnknown and are still yielded.
type RelocKind uint8

const (
	RelocUnknown RelocKind = iota
	RelocAbsolute
	RelocRelative
)

var relocKindStrings = []IntName{
	{uint32(RelocUnknown), "unknown"},
	{uint32(RelocAbsolute), "absolute"},
	{uint32(RelocRelative), "relative"},
}

func (i RelocKind) String() string { return StringName(uint32(i), relocKindStrings, false) }

// A Relocation patches a location inside its section with a value derived
// from the symbol at SymbolIndex. The index is validated against the
// symbol table only when the relocation is resolved, not when the table
// region is located.
type Relocation struct {
	Offset      uint64
	SymbolIndex int
	Kind        RelocKind
	TypeCode    uint32
	Addend      int64
	HasAddend   bool
	Size        uint8
	PCRel       bool
}
