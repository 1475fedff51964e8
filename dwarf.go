package objfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/blacktop/go-dwarf"

	"github.com/appsworld/go-objfile/types"
)

// dwarfSuffix maps a debug section name to its DWARF section suffix, or
// "" for non-debug sections. ELF and PE use ".debug_", Mach-O "__debug_";
// the "z" variants carry a ZLIB header before the payload.
func dwarfSuffix(name string) string {
	switch {
	case strings.HasPrefix(name, ".debug_"):
		return name[7:]
	case strings.HasPrefix(name, ".zdebug_"):
		return name[8:]
	case strings.HasPrefix(name, "__debug_"):
		return name[8:]
	case strings.HasPrefix(name, "__zdebug_"):
		return name[9:]
	}
	return ""
}

func (f *File) dwarfSectionData(i int) ([]byte, error) {
	b, err := f.raw.SectionData(i)
	if err != nil {
		return nil, err
	}
	if len(b) >= 12 && string(b[:4]) == "ZLIB" {
		dlen := binary.BigEndian.Uint64(b[4:12])
		dbuf := make([]byte, dlen)
		r, err := zlib.NewReader(bytes.NewBuffer(b[12:]))
		if err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, dbuf); err != nil {
			return nil, err
		}
		if err := r.Close(); err != nil {
			return nil, err
		}
		b = dbuf
	}
	return b, nil
}

// DWARF returns the DWARF debug information for the file, if any.
func (f *File) DWARF() (*dwarf.Data, error) {
	// There are many other DWARF sections, but these are the ones the
	// dwarf package uses. Don't bother loading others.
	var dat = map[string][]byte{"abbrev": nil, "info": nil, "str": nil, "line": nil, "ranges": nil}
	var found bool
	for i := 0; i < f.raw.NumSections(); i++ {
		s, err := f.raw.Section(i)
		if err != nil {
			return nil, err
		}
		suffix := dwarfSuffix(s.Name)
		if suffix == "" {
			continue
		}
		if _, ok := dat[suffix]; !ok {
			continue
		}
		b, err := f.dwarfSectionData(i)
		if err != nil {
			return nil, err
		}
		dat[suffix] = b
		found = true
	}
	if !found {
		return nil, types.Errorf(types.ErrUnsupportedVariant, 0, "no DWARF sections", nil)
	}

	d, err := dwarf.New(dat["abbrev"], nil, nil, dat["info"], dat["line"], nil, dat["ranges"], dat["str"])
	if err != nil {
		return nil, err
	}

	// Look for DWARF4 .debug_types sections.
	for i := 0; i < f.raw.NumSections(); i++ {
		s, err := f.raw.Section(i)
		if err != nil {
			return nil, err
		}
		if dwarfSuffix(s.Name) != "types" {
			continue
		}
		b, err := f.dwarfSectionData(i)
		if err != nil {
			return nil, err
		}
		if err := d.AddTypes(fmt.Sprintf("types-%d", i), b); err != nil {
			return nil, err
		}
	}
	return d, nil
}
