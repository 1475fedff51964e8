package macho

import (
	"encoding/binary"

	"github.com/appsworld/go-objfile/internal/raw"
	"github.com/appsworld/go-objfile/types"
)

const fatArchSize = 20

// A FatArch describes one architecture slice of a fat container.
type FatArch struct {
	CPU    CPU
	SubCPU uint32
	Offset uint32
	Size   uint32
	Align  uint32
}

// A FatFile is a Mach-O universal binary: a header plus per-architecture
// slices, each of which is a complete single-architecture image. The
// caller picks a slice; the container itself has no sections or symbols.
type FatFile struct {
	Arches []FatArch

	r raw.Reader
}

// ParseFat decodes the fat header in data. Slice payloads are validated
// against the buffer here; their contents are decoded by Slice.
func ParseFat(data []byte) (*FatFile, error) {
	r := raw.NewReader(data, binary.BigEndian)
	magic, err := r.Uint32(0, "fat magic")
	if err != nil {
		return nil, err
	}
	if Magic(magic) != MagicFat {
		return nil, types.Errorf(types.ErrUnknownFormat, 0, "fat magic", magic)
	}
	narch, err := r.Uint32(4, "nfat_arch")
	if err != nil {
		return nil, err
	}
	if narch == 0 {
		return nil, types.Errorf(types.ErrMalformedHeader, 4, "nfat_arch", narch)
	}
	tab, err := r.Table(8, uint64(narch), fatArchSize, "fat arch table")
	if err != nil {
		return nil, err
	}

	ff := &FatFile{r: r, Arches: make([]FatArch, narch)}
	for i := range ff.Arches {
		e := tab.Entry(i)
		a := &ff.Arches[i]
		cpu, _ := e.Uint32(0, "cputype")
		a.CPU = CPU(cpu)
		a.SubCPU, _ = e.Uint32(4, "cpusubtype")
		a.Offset, _ = e.Uint32(8, "offset")
		a.Size, _ = e.Uint32(12, "size")
		a.Align, _ = e.Uint32(16, "align")
		if _, err := r.Bytes(uint64(a.Offset), uint64(a.Size), "fat arch payload"); err != nil {
			return nil, err
		}
	}
	return ff, nil
}

// Slice parses architecture slice i as a single-architecture Mach-O file.
func (ff *FatFile) Slice(i int) (*File, error) {
	if i < 0 || i >= len(ff.Arches) {
		return nil, types.Errorf(types.ErrOutOfBounds, 0, "fat arch index", i)
	}
	a := &ff.Arches[i]
	dat, err := ff.r.Bytes(uint64(a.Offset), uint64(a.Size), "fat arch payload")
	if err != nil {
		return nil, err
	}
	return Parse(dat)
}
