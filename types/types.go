package types

import (
	"encoding/binary"
	"fmt"
)

// A FormatKind identifies the container format of an object file,
// including its bit width where the on-disk layouts differ.
type FormatKind uint32

const (
	FormatUnknown FormatKind = iota
	Elf32
	Elf64
	MachO32
	MachO64
	MachOFat
	Pe32
	Pe64
	Wasm
)

var formatStrings = []IntName{
	{uint32(Elf32), "32-bit ELF"},
	{uint32(Elf64), "64-bit ELF"},
	{uint32(MachO32), "32-bit MachO"},
	{uint32(MachO64), "64-bit MachO"},
	{uint32(MachOFat), "Fat MachO"},
	{uint32(Pe32), "PE32"},
	{uint32(Pe64), "PE32+"},
	{uint32(Wasm), "Wasm"},
}

func (i FormatKind) Int() uint32      { return uint32(i) }
func (i FormatKind) String() string   { return StringName(uint32(i), formatStrings, false) }
func (i FormatKind) GoString() string { return StringName(uint32(i), formatStrings, true) }

// Is64 reports whether the format uses 64-bit file offsets and addresses.
func (i FormatKind) Is64() bool {
	return i == Elf64 || i == MachO64 || i == Pe64
}

// An Endianness is the byte order multi-byte fields are encoded with.
type Endianness uint8

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

// ByteOrder returns the encoding/binary order for e.
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// A Machine is a normalized CPU architecture, mapped from the
// format-specific machine field (ELF e_machine, Mach-O cputype, COFF
// machine).
type Machine uint32

const (
	MachineOther Machine = iota
	MachineX86
	MachineX86_64
	MachineArm
	MachineArm64
	MachinePPC
	MachinePPC64
	MachineMips
	MachineRiscV64
	MachineWasm32
)

var machineStrings = []IntName{
	{uint32(MachineOther), "unknown"},
	{uint32(MachineX86), "x86"},
	{uint32(MachineX86_64), "x86_64"},
	{uint32(MachineArm), "arm"},
	{uint32(MachineArm64), "arm64"},
	{uint32(MachinePPC), "ppc"},
	{uint32(MachinePPC64), "ppc64"},
	{uint32(MachineMips), "mips"},
	{uint32(MachineRiscV64), "riscv64"},
	{uint32(MachineWasm32), "wasm32"},
}

func (i Machine) Int() uint32      { return uint32(i) }
func (i Machine) String() string   { return StringName(uint32(i), machineStrings, false) }
func (i Machine) GoString() string { return StringName(uint32(i), machineStrings, true) }

// Prot is a segment permission mask.
type Prot int32

func (v Prot) Read() bool {
	return (v & 0x01) != 0
}

func (v Prot) Write() bool {
	return (v & 0x02) != 0
}

func (v Prot) Execute() bool {
	return (v & 0x04) != 0
}

func (v Prot) String() string {
	var protStr string
	if v.Read() {
		protStr += "r"
	} else {
		protStr += "-"
	}
	if v.Write() {
		protStr += "w"
	} else {
		protStr += "-"
	}
	if v.Execute() {
		protStr += "x"
	} else {
		protStr += "-"
	}
	return protStr
}

// An IntName couples a constant with its string form, for the table-driven
// stringers above.
type IntName struct {
	I uint32
	S string
}

func StringName(i uint32, names []IntName, goSyntax bool) string {
	for _, n := range names {
		if n.I == i {
			if goSyntax {
				return "types." + n.S
			}
			return n.S
		}
	}
	return fmt.Sprintf("%#x", i)
}
