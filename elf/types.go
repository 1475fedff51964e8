package elf

import "github.com/appsworld/go-objfile/types"

// On-disk constants. Only the subset this decoder interprets is named;
// anything else is carried through numerically.

const elfMagic = "\x7fELF"

// Class is the ELFCLASS field of the ident.
type Class uint8

const (
	ClassNone Class = 0
	Class32   Class = 1
	Class64   Class = 2
)

var classStrings = []types.IntName{
	{I: uint32(ClassNone), S: "none"},
	{I: uint32(Class32), S: "ELFCLASS32"},
	{I: uint32(Class64), S: "ELFCLASS64"},
}

func (i Class) String() string { return types.StringName(uint32(i), classStrings, false) }

// Data is the ELFDATA field of the ident.
type Data uint8

const (
	DataNone Data = 0
	Data2LSB Data = 1
	Data2MSB Data = 2
)

var dataStrings = []types.IntName{
	{I: uint32(DataNone), S: "none"},
	{I: uint32(Data2LSB), S: "ELFDATA2LSB"},
	{I: uint32(Data2MSB), S: "ELFDATA2MSB"},
}

func (i Data) String() string { return types.StringName(uint32(i), dataStrings, false) }

// SectionType is the sh_type field of a section header.
type SectionType uint32

const (
	SHT_NULL     SectionType = 0
	SHT_PROGBITS SectionType = 1
	SHT_SYMTAB   SectionType = 2
	SHT_STRTAB   SectionType = 3
	SHT_RELA     SectionType = 4
	SHT_HASH     SectionType = 5
	SHT_DYNAMIC  SectionType = 6
	SHT_NOTE     SectionType = 7
	SHT_NOBITS   SectionType = 8
	SHT_REL      SectionType = 9
	SHT_DYNSYM   SectionType = 11
)

// Section header flags.
const (
	SHF_WRITE     uint64 = 0x1
	SHF_ALLOC     uint64 = 0x2
	SHF_EXECINSTR uint64 = 0x4
)

// ProgType is the p_type field of a program header.
type ProgType uint32

const (
	PT_NULL    ProgType = 0
	PT_LOAD    ProgType = 1
	PT_DYNAMIC ProgType = 2
	PT_INTERP  ProgType = 3
	PT_NOTE    ProgType = 4
	PT_PHDR    ProgType = 6
	PT_TLS     ProgType = 7
)

var progTypeStrings = []types.IntName{
	{I: uint32(PT_NULL), S: "NULL"},
	{I: uint32(PT_LOAD), S: "LOAD"},
	{I: uint32(PT_DYNAMIC), S: "DYNAMIC"},
	{I: uint32(PT_INTERP), S: "INTERP"},
	{I: uint32(PT_NOTE), S: "NOTE"},
	{I: uint32(PT_PHDR), S: "PHDR"},
	{I: uint32(PT_TLS), S: "TLS"},
}

func (i ProgType) String() string { return types.StringName(uint32(i), progTypeStrings, false) }

// Program header permission flags.
const (
	PF_X uint32 = 0x1
	PF_W uint32 = 0x2
	PF_R uint32 = 0x4
)

// Symbol bindings (high nibble of st_info).
const (
	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2
)

// Symbol types (low nibble of st_info).
const (
	STT_NOTYPE  = 0
	STT_OBJECT  = 1
	STT_FUNC    = 2
	STT_SECTION = 3
	STT_FILE    = 4
)

// Special section indexes in st_shndx.
const (
	SHN_UNDEF     = 0
	SHN_LORESERVE = 0xff00
)

// e_machine values this decoder maps onto a normalized Machine.
const (
	EM_386     = 3
	EM_MIPS    = 8
	EM_PPC     = 20
	EM_PPC64   = 21
	EM_ARM     = 40
	EM_X86_64  = 62
	EM_AARCH64 = 183
	EM_RISCV   = 243
)

// Relocation type codes recognized per machine. Grown incrementally;
// unlisted codes are surfaced with RelocUnknown, not rejected.
const (
	R_386_32   = 1
	R_386_PC32 = 2

	R_X86_64_64   = 1
	R_X86_64_PC32 = 2
	R_X86_64_32   = 10
	R_X86_64_32S  = 11

	R_AARCH64_ABS64  = 257
	R_AARCH64_ABS32  = 258
	R_AARCH64_PREL32 = 261
)

// Fixed header and table entry sizes per class.
const (
	headerSize32 = 52
	headerSize64 = 64

	progEntSize32 = 32
	progEntSize64 = 56

	sectionEntSize32 = 40
	sectionEntSize64 = 64

	symEntSize32 = 16
	symEntSize64 = 24
)
