package objfile

import (
	"encoding/binary"

	"github.com/appsworld/go-objfile/macho"
	"github.com/appsworld/go-objfile/pe"
	"github.com/appsworld/go-objfile/types"
)

// Sniff inspects the leading bytes of data and reports which format and
// byte order they declare. It reads nothing beyond what identification
// needs and never assumes a minimum buffer length before checking it.
// Unrecognized leading bytes are a hard failure, not a default.
func Sniff(data []byte) (types.FormatKind, types.Endianness, error) {
	if len(data) >= 6 && string(data[0:4]) == "\x7fELF" {
		var kind types.FormatKind
		switch data[4] {
		case 1:
			kind = types.Elf32
		case 2:
			kind = types.Elf64
		default:
			return 0, 0, types.Errorf(types.ErrMalformedHeader, 4, "ident class", data[4])
		}
		switch data[5] {
		case 1:
			return kind, types.LittleEndian, nil
		case 2:
			return kind, types.BigEndian, nil
		}
		return 0, 0, types.Errorf(types.ErrMalformedHeader, 5, "ident data encoding", data[5])
	}

	if len(data) >= 4 {
		be := binary.BigEndian.Uint32(data[0:4])
		le := binary.LittleEndian.Uint32(data[0:4])
		// The fat magic is its own constant, checked before the
		// single-architecture magics. Fat headers are always big-endian.
		if macho.Magic(be) == macho.MagicFat {
			return types.MachOFat, types.BigEndian, nil
		}
		switch macho.Magic(be) {
		case macho.Magic32:
			return types.MachO32, types.BigEndian, nil
		case macho.Magic64:
			return types.MachO64, types.BigEndian, nil
		}
		switch macho.Magic(le) {
		case macho.Magic32:
			return types.MachO32, types.LittleEndian, nil
		case macho.Magic64:
			return types.MachO64, types.LittleEndian, nil
		}
	}

	if len(data) >= 8 && string(data[0:4]) == "\x00asm" {
		return types.Wasm, types.LittleEndian, nil
	}

	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		return sniffPE(data)
	}
	if len(data) >= 20 {
		// A bare COFF object has no signature; a recognized machine
		// value in the first two bytes is its only mark.
		m := binary.LittleEndian.Uint16(data[0:2])
		if pe.KnownMachine(m) {
			return peWidth(m), types.LittleEndian, nil
		}
	}
	return 0, 0, types.Errorf(types.ErrUnknownFormat, 0, "magic", nil)
}

func sniffPE(data []byte) (types.FormatKind, types.Endianness, error) {
	if len(data) < 0x40 {
		return 0, 0, types.Errorf(types.ErrOutOfBounds, 0x3c, "e_lfanew", len(data))
	}
	lfanew := binary.LittleEndian.Uint32(data[0x3c:0x40])
	if uint64(lfanew)+4 > uint64(len(data)) {
		return 0, 0, types.Errorf(types.ErrOutOfBounds, int64(lfanew), "PE signature", lfanew)
	}
	if string(data[lfanew:lfanew+4]) != "PE\x00\x00" {
		return 0, 0, types.Errorf(types.ErrUnknownFormat, int64(lfanew), "PE signature", data[lfanew:lfanew+4])
	}
	coff := uint64(lfanew) + 4
	if coff+20 > uint64(len(data)) {
		return 0, 0, types.Errorf(types.ErrOutOfBounds, int64(coff), "COFF header", len(data))
	}
	machine := binary.LittleEndian.Uint16(data[coff : coff+2])
	optSize := binary.LittleEndian.Uint16(data[coff+16 : coff+18])
	if optSize >= 2 && coff+22 <= uint64(len(data)) {
		switch binary.LittleEndian.Uint16(data[coff+20 : coff+22]) {
		case pe.OptionalHeader64Magic:
			return types.Pe64, types.LittleEndian, nil
		case pe.OptionalHeader32Magic:
			return types.Pe32, types.LittleEndian, nil
		}
	}
	return peWidth(machine), types.LittleEndian, nil
}

func peWidth(machine uint16) types.FormatKind {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_AMD64, pe.IMAGE_FILE_MACHINE_ARM64, pe.IMAGE_FILE_MACHINE_RISCV64:
		return types.Pe64
	}
	return types.Pe32
}
