// Package raw provides bounds-checked primitive reads over an object
// file's byte buffer. Every decoder goes through a Reader so that no
// offset, count, or length taken from the file is trusted before it is
// checked against the buffer.
package raw

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/appsworld/go-objfile/types"
)

// A Reader wraps a byte slice with a byte order. It never copies the
// slice; Bytes and Table return views into it.
type Reader struct {
	data []byte
	bo   binary.ByteOrder
}

func NewReader(data []byte, bo binary.ByteOrder) Reader {
	return Reader{data: data, bo: bo}
}

// Data returns the underlying buffer.
func (r Reader) Data() []byte { return r.data }

// Len returns the buffer length.
func (r Reader) Len() uint64 { return uint64(len(r.data)) }

// ByteOrder returns the byte order multi-byte reads decode with.
func (r Reader) ByteOrder() binary.ByteOrder { return r.bo }

func (r Reader) check(off, n uint64, field string) error {
	if off > math.MaxUint64-n || off+n > uint64(len(r.data)) {
		return types.Errorf(types.ErrOutOfBounds, int64(off), field, n)
	}
	return nil
}

func (r Reader) Uint8(off uint64, field string) (uint8, error) {
	if err := r.check(off, 1, field); err != nil {
		return 0, err
	}
	return r.data[off], nil
}

func (r Reader) Uint16(off uint64, field string) (uint16, error) {
	if err := r.check(off, 2, field); err != nil {
		return 0, err
	}
	return r.bo.Uint16(r.data[off:]), nil
}

func (r Reader) Uint32(off uint64, field string) (uint32, error) {
	if err := r.check(off, 4, field); err != nil {
		return 0, err
	}
	return r.bo.Uint32(r.data[off:]), nil
}

func (r Reader) Uint64(off uint64, field string) (uint64, error) {
	if err := r.check(off, 8, field); err != nil {
		return 0, err
	}
	return r.bo.Uint64(r.data[off:]), nil
}

// Bytes returns the n bytes at off as a view into the buffer.
func (r Reader) Bytes(off, n uint64, field string) ([]byte, error) {
	if err := r.check(off, n, field); err != nil {
		return nil, err
	}
	return r.data[off : off+n : off+n], nil
}

// CString returns the NUL-terminated string at off. An unterminated
// string runs to the end of the buffer.
func (r Reader) CString(off uint64, field string) (string, error) {
	if err := r.check(off, 0, field); err != nil {
		return "", err
	}
	b := r.data[off:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// A Table is a validated view of count fixed-stride records inside the
// buffer. Entries are decoded one at a time; obtaining entry i never
// touches any other entry.
type Table struct {
	r      Reader
	off    uint64
	stride uint64
	count  uint64
}

// Table validates off + count*stride against the buffer, with overflow
// checks on the multiplication and addition, and returns the table view.
func (r Reader) Table(off, count, stride uint64, field string) (Table, error) {
	if stride == 0 {
		return Table{}, types.Errorf(types.ErrMalformedHeader, int64(off), field, stride)
	}
	if count > math.MaxUint64/stride {
		return Table{}, types.Errorf(types.ErrOutOfBounds, int64(off), field, count)
	}
	if err := r.check(off, count*stride, field); err != nil {
		return Table{}, err
	}
	return Table{r: r, off: off, stride: stride, count: count}, nil
}

// Count returns the number of records in the table.
func (t Table) Count() int { return int(t.count) }

// Stride returns the record size in bytes.
func (t Table) Stride() uint64 { return t.stride }

// Offset returns the file offset of record i. i must be in range.
func (t Table) Offset(i int) uint64 { return t.off + uint64(i)*t.stride }

// Entry returns a Reader positioned over record i, sharing the table's
// byte order. The bounds were established when the table was built.
func (t Table) Entry(i int) Reader {
	off := t.off + uint64(i)*t.stride
	return Reader{data: t.r.data[off : off+t.stride : off+t.stride], bo: t.r.bo}
}
