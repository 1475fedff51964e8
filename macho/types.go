package macho

import "github.com/appsworld/go-objfile/types"

type Magic uint32

const (
	Magic32  Magic = 0xfeedface
	Magic64  Magic = 0xfeedfacf
	MagicFat Magic = 0xcafebabe
)

var magicStrings = []types.IntName{
	{I: uint32(Magic32), S: "32-bit MachO"},
	{I: uint32(Magic64), S: "64-bit MachO"},
	{I: uint32(MagicFat), S: "Fat MachO"},
}

func (i Magic) Int() uint32    { return uint32(i) }
func (i Magic) String() string { return types.StringName(uint32(i), magicStrings, false) }

// A CPU is a Mach-O cputype value.
type CPU uint32

const (
	CPU386    CPU = 7
	CPUAmd64  CPU = CPU386 | cpuArch64
	CPUArm    CPU = 12
	CPUArm64  CPU = CPUArm | cpuArch64
	CPUPpc    CPU = 18
	CPUPpc64  CPU = CPUPpc | cpuArch64
	cpuArch64     = 0x01000000
)

var cpuStrings = []types.IntName{
	{I: uint32(CPU386), S: "i386"},
	{I: uint32(CPUAmd64), S: "x86_64"},
	{I: uint32(CPUArm), S: "ARM"},
	{I: uint32(CPUArm64), S: "AARCH64"},
	{I: uint32(CPUPpc), S: "PowerPC"},
	{I: uint32(CPUPpc64), S: "PowerPC64"},
}

func (i CPU) Int() uint32    { return uint32(i) }
func (i CPU) String() string { return types.StringName(uint32(i), cpuStrings, false) }

// A LoadCmd is a Mach-O load command type.
type LoadCmd uint32

const (
	LC_SEGMENT    LoadCmd = 0x1
	LC_SYMTAB     LoadCmd = 0x2
	LC_UNIXTHREAD LoadCmd = 0x5
	LC_DYSYMTAB   LoadCmd = 0xb
	LC_SEGMENT_64 LoadCmd = 0x19
	LC_MAIN       LoadCmd = 0x80000028
)

var cmdStrings = []types.IntName{
	{I: uint32(LC_SEGMENT), S: "LC_SEGMENT"},
	{I: uint32(LC_SYMTAB), S: "LC_SYMTAB"},
	{I: uint32(LC_UNIXTHREAD), S: "LC_UNIXTHREAD"},
	{I: uint32(LC_DYSYMTAB), S: "LC_DYSYMTAB"},
	{I: uint32(LC_SEGMENT_64), S: "LC_SEGMENT_64"},
	{I: uint32(LC_MAIN), S: "LC_MAIN"},
}

func (i LoadCmd) Int() uint32    { return uint32(i) }
func (i LoadCmd) String() string { return types.StringName(uint32(i), cmdStrings, false) }

const (
	fileHeaderSize32 = 7 * 4
	fileHeaderSize64 = 8 * 4

	nlistSize32 = 12
	nlistSize64 = 16

	relocInfoSize = 8

	segmentCmdSize32 = 56
	segmentCmdSize64 = 72

	sectionSize32 = 68
	sectionSize64 = 80
)

// nlist n_type fields.
const (
	N_STAB = 0xe0
	N_PEXT = 0x10
	N_TYPE = 0x0e
	N_EXT  = 0x01

	N_UNDF = 0x0
	N_ABS  = 0x2
	N_SECT = 0xe
	N_PBUD = 0xc
	N_INDR = 0xa
)

// nlist n_desc flags.
const (
	N_WEAK_REF = 0x0040
	N_WEAK_DEF = 0x0080
)

// Section flags; the low byte is the section type.
const (
	sectionTypeMask          = 0xff
	S_ZEROFILL               = 0x1
	S_CSTRING_LITERALS       = 0x2
	S_GB_ZEROFILL            = 0xc
	S_ATTR_PURE_INSTRUCTIONS = 0x80000000
	S_ATTR_SOME_INSTRUCTIONS = 0x00000400
)

// Relocation type codes recognized per cputype. The list grows as codes
// are needed; anything else degrades to RelocUnknown.
const (
	GENERIC_RELOC_VANILLA = 0

	X86_64_RELOC_UNSIGNED = 0
	X86_64_RELOC_SIGNED   = 1
	X86_64_RELOC_BRANCH   = 2

	ARM64_RELOC_UNSIGNED = 0
	ARM64_RELOC_BRANCH26 = 2
)
