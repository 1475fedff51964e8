package wasm

import "github.com/appsworld/go-objfile/types"

const (
	wasmMagic   = "\x00asm"
	wasmVersion = 1
)

// A SectionID identifies a module section.
type SectionID uint8

const (
	SectionCustom    SectionID = 0
	SectionType      SectionID = 1
	SectionImport    SectionID = 2
	SectionFunction  SectionID = 3
	SectionTable     SectionID = 4
	SectionMemory    SectionID = 5
	SectionGlobal    SectionID = 6
	SectionExport    SectionID = 7
	SectionStart     SectionID = 8
	SectionElement   SectionID = 9
	SectionCode      SectionID = 10
	SectionData      SectionID = 11
	SectionDataCount SectionID = 12
)

var sectionIDStrings = []types.IntName{
	{I: uint32(SectionCustom), S: "custom"},
	{I: uint32(SectionType), S: "type"},
	{I: uint32(SectionImport), S: "import"},
	{I: uint32(SectionFunction), S: "function"},
	{I: uint32(SectionTable), S: "table"},
	{I: uint32(SectionMemory), S: "memory"},
	{I: uint32(SectionGlobal), S: "global"},
	{I: uint32(SectionExport), S: "export"},
	{I: uint32(SectionStart), S: "start"},
	{I: uint32(SectionElement), S: "element"},
	{I: uint32(SectionCode), S: "code"},
	{I: uint32(SectionData), S: "data"},
	{I: uint32(SectionDataCount), S: "datacount"},
}

func (i SectionID) String() string { return types.StringName(uint32(i), sectionIDStrings, false) }

// Linking metadata constants, per the tool-conventions linking spec.
const (
	linkingVersion = 2

	// Subsection types of the "linking" custom section.
	WASM_SEGMENT_INFO = 5
	WASM_INIT_FUNCS   = 6
	WASM_COMDAT_INFO  = 7
	WASM_SYMBOL_TABLE = 8

	// Symbol kinds.
	SYMTAB_FUNCTION = 0
	SYMTAB_DATA     = 1
	SYMTAB_GLOBAL   = 2
	SYMTAB_SECTION  = 3
	SYMTAB_EVENT    = 4
	SYMTAB_TABLE    = 5

	// Symbol flags.
	WASM_SYM_BINDING_WEAK      = 0x01
	WASM_SYM_BINDING_LOCAL     = 0x02
	WASM_SYM_VISIBILITY_HIDDEN = 0x04
	WASM_SYM_UNDEFINED         = 0x10
	WASM_SYM_EXPORTED          = 0x20
	WASM_SYM_EXPLICIT_NAME     = 0x40
	WASM_SYM_NO_STRIP          = 0x80
)

// Relocation type codes. Codes with a trailing addend field must be known
// here to keep the entry stream aligned; unlisted codes decode without an
// addend and degrade to RelocUnknown.
const (
	R_WASM_FUNCTION_INDEX_LEB   = 0
	R_WASM_TABLE_INDEX_SLEB     = 1
	R_WASM_TABLE_INDEX_I32      = 2
	R_WASM_MEMORY_ADDR_LEB      = 3
	R_WASM_MEMORY_ADDR_SLEB     = 4
	R_WASM_MEMORY_ADDR_I32      = 5
	R_WASM_TYPE_INDEX_LEB       = 6
	R_WASM_GLOBAL_INDEX_LEB     = 7
	R_WASM_FUNCTION_OFFSET_I32  = 8
	R_WASM_SECTION_OFFSET_I32   = 9
	R_WASM_EVENT_INDEX_LEB      = 10
	R_WASM_MEMORY_ADDR_REL_SLEB = 11
	R_WASM_TABLE_INDEX_REL_SLEB = 12
	R_WASM_GLOBAL_INDEX_I32     = 13
	R_WASM_MEMORY_ADDR_LEB64    = 14
	R_WASM_MEMORY_ADDR_SLEB64   = 15
	R_WASM_MEMORY_ADDR_I32_64   = 16
	R_WASM_TABLE_NUMBER_LEB     = 17
)

func relocHasAddend(typ uint8) bool {
	switch typ {
	case R_WASM_MEMORY_ADDR_LEB, R_WASM_MEMORY_ADDR_SLEB, R_WASM_MEMORY_ADDR_I32,
		R_WASM_FUNCTION_OFFSET_I32, R_WASM_SECTION_OFFSET_I32,
		R_WASM_MEMORY_ADDR_REL_SLEB,
		R_WASM_MEMORY_ADDR_LEB64, R_WASM_MEMORY_ADDR_SLEB64, R_WASM_MEMORY_ADDR_I32_64:
		return true
	}
	return false
}

func relocKind(typ uint8) (types.RelocKind, uint8, bool) {
	switch typ {
	case R_WASM_FUNCTION_INDEX_LEB, R_WASM_MEMORY_ADDR_LEB, R_WASM_TYPE_INDEX_LEB,
		R_WASM_GLOBAL_INDEX_LEB, R_WASM_EVENT_INDEX_LEB, R_WASM_TABLE_NUMBER_LEB:
		return types.RelocAbsolute, 5, false
	case R_WASM_TABLE_INDEX_SLEB, R_WASM_MEMORY_ADDR_SLEB:
		return types.RelocAbsolute, 5, false
	case R_WASM_TABLE_INDEX_I32, R_WASM_MEMORY_ADDR_I32, R_WASM_FUNCTION_OFFSET_I32,
		R_WASM_SECTION_OFFSET_I32, R_WASM_GLOBAL_INDEX_I32:
		return types.RelocAbsolute, 4, false
	case R_WASM_MEMORY_ADDR_REL_SLEB, R_WASM_TABLE_INDEX_REL_SLEB:
		return types.RelocRelative, 5, true
	case R_WASM_MEMORY_ADDR_LEB64, R_WASM_MEMORY_ADDR_SLEB64:
		return types.RelocAbsolute, 10, false
	case R_WASM_MEMORY_ADDR_I32_64:
		return types.RelocAbsolute, 8, false
	}
	return types.RelocUnknown, 0, false
}
