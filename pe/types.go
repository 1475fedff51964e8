package pe

import "github.com/appsworld/go-objfile/types"

// COFF machine values.
const (
	IMAGE_FILE_MACHINE_UNKNOWN uint16 = 0x0
	IMAGE_FILE_MACHINE_I386    uint16 = 0x14c
	IMAGE_FILE_MACHINE_R4000   uint16 = 0x166
	IMAGE_FILE_MACHINE_ARM     uint16 = 0x1c0
	IMAGE_FILE_MACHINE_ARMNT   uint16 = 0x1c4
	IMAGE_FILE_MACHINE_POWERPC uint16 = 0x1f0
	IMAGE_FILE_MACHINE_RISCV64 uint16 = 0x5064
	IMAGE_FILE_MACHINE_AMD64   uint16 = 0x8664
	IMAGE_FILE_MACHINE_ARM64   uint16 = 0xaa64
)

// Optional header magic values.
const (
	OptionalHeader32Magic uint16 = 0x10b
	OptionalHeader64Magic uint16 = 0x20b
)

// Section characteristics.
const (
	IMAGE_SCN_CNT_CODE               uint32 = 0x00000020
	IMAGE_SCN_CNT_INITIALIZED_DATA   uint32 = 0x00000040
	IMAGE_SCN_CNT_UNINITIALIZED_DATA uint32 = 0x00000080
	IMAGE_SCN_LNK_INFO               uint32 = 0x00000200
	IMAGE_SCN_LNK_REMOVE             uint32 = 0x00000800
	IMAGE_SCN_MEM_EXECUTE            uint32 = 0x20000000
	IMAGE_SCN_MEM_READ               uint32 = 0x40000000
	IMAGE_SCN_MEM_WRITE              uint32 = 0x80000000
)

// Symbol storage classes.
const (
	IMAGE_SYM_CLASS_EXTERNAL      uint8 = 2
	IMAGE_SYM_CLASS_STATIC        uint8 = 3
	IMAGE_SYM_CLASS_FILE          uint8 = 103
	IMAGE_SYM_CLASS_WEAK_EXTERNAL uint8 = 105
)

// Complex type field: the DTYPE lives in the high nibble of the low byte.
const IMAGE_SYM_DTYPE_FUNCTION = 2

// Section numbers with special meaning in symbol entries.
const (
	IMAGE_SYM_UNDEFINED int16 = 0
	IMAGE_SYM_ABSOLUTE  int16 = -1
	IMAGE_SYM_DEBUG     int16 = -2
)

// Relocation type codes recognized per machine; anything else degrades to
// RelocUnknown.
const (
	IMAGE_REL_I386_DIR32 uint16 = 0x0006
	IMAGE_REL_I386_REL32 uint16 = 0x0014

	IMAGE_REL_AMD64_ADDR64 uint16 = 0x0001
	IMAGE_REL_AMD64_ADDR32 uint16 = 0x0002
	IMAGE_REL_AMD64_REL32  uint16 = 0x0004

	IMAGE_REL_ARM64_ADDR32 uint16 = 0x0001
	IMAGE_REL_ARM64_ADDR64 uint16 = 0x000e
	IMAGE_REL_ARM64_REL32  uint16 = 0x0011
)

const (
	coffHeaderSize    = 20
	sectionHeaderSize = 40
	symbolEntrySize   = 18
	relocEntrySize    = 10

	dosStubSigOffset    = 0x3c
	defaultSectionAlign = 0x1000
)

func machineArch(m uint16) types.Machine {
	switch m {
	case IMAGE_FILE_MACHINE_I386:
		return types.MachineX86
	case IMAGE_FILE_MACHINE_AMD64:
		return types.MachineX86_64
	case IMAGE_FILE_MACHINE_ARM, IMAGE_FILE_MACHINE_ARMNT:
		return types.MachineArm
	case IMAGE_FILE_MACHINE_ARM64:
		return types.MachineArm64
	case IMAGE_FILE_MACHINE_POWERPC:
		return types.MachinePPC
	case IMAGE_FILE_MACHINE_R4000:
		return types.MachineMips
	case IMAGE_FILE_MACHINE_RISCV64:
		return types.MachineRiscV64
	}
	return types.MachineOther
}

// KnownMachine reports whether m is a machine value this decoder
// recognizes, used when identifying a bare COFF object with no DOS stub.
func KnownMachine(m uint16) bool {
	return machineArch(m) != types.MachineOther
}
