package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"

	"github.com/MrEthical07/opentoken/hash"
)

var errFieldTooLong = errors.New("record field too long")

// recordWriter appends big-endian fields to a buffer and remembers the
// first error so encoders can stay linear.
type recordWriter struct {
	buf bytes.Buffer
	err error
}

func newRecordWriter(version byte) *recordWriter {
	w := &recordWriter{}
	w.buf.WriteByte(version)
	return w
}

func (w *recordWriter) u8(v byte) {
	if w.err == nil {
		w.buf.WriteByte(v)
	}
}

func (w *recordWriter) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *recordWriter) u16(v uint16) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) u32(v uint32) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) u64(v uint64) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) time(t time.Time) {
	var ms int64
	if !t.IsZero() {
		ms = t.UnixMilli()
	}
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, ms)
	}
}

func (w *recordWriter) str(s string) {
	if len(s) > math.MaxUint16 {
		w.fail(errFieldTooLong)
		return
	}
	w.u16(uint16(len(s)))
	if w.err == nil {
		w.buf.WriteString(s)
	}
}

func (w *recordWriter) blob(b []byte) {
	if uint64(len(b)) > math.MaxUint32 {
		w.fail(errFieldTooLong)
		return
	}
	w.u32(uint32(len(b)))
	if w.err == nil {
		w.buf.Write(b)
	}
}

func (w *recordWriter) hashConfig(c hash.Config) {
	w.str(string(c.Algorithm))
	w.u32(c.Iterations)
	w.u32(c.HashLength)
	w.blob(c.Salt)
	w.u32(c.SaltLength)
	w.str(string(c.Encoding))
	w.u32(c.Memory)
	w.u8(c.Parallelism)
}

func (w *recordWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *recordWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// recordReader is the decoding counterpart of recordWriter.
type recordReader struct {
	r   *bytes.Reader
	err error
}

func newRecordReader(data []byte, version byte) (*recordReader, error) {
	r := &recordReader{r: bytes.NewReader(data)}
	v, err := r.r.ReadByte()
	if err != nil {
		return nil, ErrRecordCorrupt
	}
	if v != version {
		return nil, ErrRecordVersion
	}
	return r, nil
}

func (r *recordReader) u8() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	r.err = err
	return b
}

func (r *recordReader) bool() bool {
	return r.u8() == 1
}

func (r *recordReader) u16() uint16 {
	var v uint16
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, &v)
	}
	return v
}

func (r *recordReader) u32() uint32 {
	var v uint32
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, &v)
	}
	return v
}

func (r *recordReader) u64() uint64 {
	var v uint64
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, &v)
	}
	return v
}

func (r *recordReader) time() time.Time {
	var ms int64
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, &ms)
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (r *recordReader) str() string {
	n := r.u16()
	if r.err != nil {
		return ""
	}
	out := make([]byte, n)
	_, r.err = io.ReadFull(r.r, out)
	return string(out)
}

func (r *recordReader) blob() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if int64(n) > int64(r.r.Len()) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	out := make([]byte, n)
	_, r.err = io.ReadFull(r.r, out)
	return out
}

func (r *recordReader) hashConfig() hash.Config {
	var c hash.Config
	c.Algorithm = hash.Algorithm(r.str())
	c.Iterations = r.u32()
	c.HashLength = r.u32()
	if salt := r.blob(); len(salt) > 0 {
		c.Salt = salt
	}
	c.SaltLength = r.u32()
	c.Encoding = hash.Encoding(r.str())
	c.Memory = r.u32()
	c.Parallelism = r.u8()
	return c
}

func (r *recordReader) done() error {
	if r.err != nil {
		return ErrRecordCorrupt
	}
	if r.r.Len() != 0 {
		return ErrRecordCorrupt
	}
	return nil
}
