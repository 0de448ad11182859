package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const maxStringLen = 0xffff

// writer appends big endian fields, the first failure sticks
type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) uint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(v)
}

func (w *writer) bool(v bool) {
	if v {
		w.uint8(1)
	} else {
		w.uint8(0)
	}
}

func (w *writer) uint16(v uint16) {
	if w.err != nil {
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) string(s string) {
	if w.err != nil {
		return
	}
	if len(s) > maxStringLen {
		w.err = fmt.Errorf("%w: string of %d bytes exceeds %d", ErrTooLarge, len(s), maxStringLen)
		return
	}
	w.uint16(uint16(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) guid(g GUID) {
	if w.err != nil {
		return
	}
	w.buf.Write(g[:])
}

func (w *writer) bytes(b []byte) {
	if w.err != nil {
		return
	}
	w.buf.Write(b)
}

// reader consumes big endian fields from a payload, the first failure sticks
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.buf)-r.off)
		return false
	}
	return true
}

func (r *reader) uint8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) bool() bool {
	v := r.uint8()
	if r.err == nil && v > 1 {
		r.err = fmt.Errorf("%w: invalid bool byte %#x", ErrMalformed, v)
	}
	return v == 1
}

func (r *reader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) string() string {
	n := int(r.uint16())
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *reader) guid() GUID {
	var g GUID
	if !r.need(GUIDSize) {
		return g
	}
	copy(g[:], r.buf[r.off:r.off+GUIDSize])
	r.off += GUIDSize
	return g
}

// rest returns a copy of every unread byte
func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, len(r.buf)-r.off)
	copy(b, r.buf[r.off:])
	r.off = len(r.buf)
	return b
}

// done fails if the payload carried trailing bytes
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing payload bytes", ErrLengthMismatch, len(r.buf)-r.off)
	}
	return nil
}
