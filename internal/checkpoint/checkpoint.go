package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ulikunitz/xz"
	"golang.org/x/xerrors"
	"google.golang.org/protobuf/encoding/protowire"
	"gonum.org/v1/gonum/mat"

	"shipnet/internal/model"
)

const magic = "shipnet.snapshot/v1"

const (
	fieldMagic  protowire.Number = 1
	fieldTensor protowire.Number = 2

	fieldName   protowire.Number = 1
	fieldRows   protowire.Number = 2
	fieldCols   protowire.Number = 3
	fieldValues protowire.Number = 4
)

// ErrBadSnapshot reports input that is not a snapshot file.
var ErrBadSnapshot = errors.New("checkpoint: malformed snapshot")

// Write encodes s to w as an xz stream of protobuf wire records: the magic
// string as field 1, then one field 2 message per tensor holding its name,
// rows, cols and packed fixed64 values.
func Write(w io.Writer, s model.Snapshot) error {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldMagic, protowire.BytesType)
	buf = protowire.AppendString(buf, magic)
	for _, name := range s.Names() {
		t, _ := s.Tensor(name)
		buf = protowire.AppendTag(buf, fieldTensor, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeTensor(name, t))
	}

	zw, err := xz.NewWriter(w)
	if err != nil {
		return xerrors.Errorf("checkpoint: xz writer: %w", err)
	}
	if _, err := zw.Write(buf); err != nil {
		zw.Close()
		return xerrors.Errorf("checkpoint: write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return xerrors.Errorf("checkpoint: flush: %w", err)
	}
	return nil
}

func encodeTensor(name string, t *mat.Dense) []byte {
	rows, cols := t.Dims()
	var b []byte
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, name)
	b = protowire.AppendTag(b, fieldRows, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rows))
	b = protowire.AppendTag(b, fieldCols, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cols))

	var packed []byte
	for i := 0; i < rows; i++ {
		for _, v := range t.RawRowView(i) {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
	}
	b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (model.Snapshot, error) {
	zr, err := xz.NewReader(r)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	buf, err := io.ReadAll(zr)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	tensors := make(map[string]*mat.Dense)
	sawMagic := false
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return model.Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, protowire.ParseError(n))
		}
		buf = buf[n:]
		switch {
		case num == fieldMagic && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 || v != magic {
				return model.Snapshot{}, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
			}
			sawMagic = true
			buf = buf[n:]
		case num == fieldTensor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return model.Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, protowire.ParseError(n))
			}
			name, t, err := decodeTensor(v)
			if err != nil {
				return model.Snapshot{}, err
			}
			if _, dup := tensors[name]; dup {
				return model.Snapshot{}, fmt.Errorf("%w: duplicate tensor %q", ErrBadSnapshot, name)
			}
			tensors[name] = t
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return model.Snapshot{}, fmt.Errorf("%w: %v", ErrBadSnapshot, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	if !sawMagic {
		return model.Snapshot{}, fmt.Errorf("%w: missing magic", ErrBadSnapshot)
	}
	return model.SnapshotFromTensors(tensors), nil
}

func decodeTensor(b []byte) (string, *mat.Dense, error) {
	var (
		name       string
		rows, cols uint64
		values     []float64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, fmt.Errorf("%w: %v", ErrBadSnapshot, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldName && typ == protowire.BytesType:
			name, n = protowire.ConsumeString(b)
		case num == fieldRows && typ == protowire.VarintType:
			rows, n = protowire.ConsumeVarint(b)
		case num == fieldCols && typ == protowire.VarintType:
			cols, n = protowire.ConsumeVarint(b)
		case num == fieldValues && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			for len(packed) > 0 {
				bits, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return "", nil, fmt.Errorf("%w: %v", ErrBadSnapshot, protowire.ParseError(m))
				}
				values = append(values, math.Float64frombits(bits))
				packed = packed[m:]
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", nil, fmt.Errorf("%w: %v", ErrBadSnapshot, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if name == "" {
		return "", nil, fmt.Errorf("%w: unnamed tensor", ErrBadSnapshot)
	}
	// Bounding each side keeps rows*cols from overflowing.
	if rows == 0 || cols == 0 || rows > math.MaxInt32 || cols > math.MaxInt32 {
		return "", nil, fmt.Errorf("%w: tensor %q has shape %dx%d", ErrBadSnapshot, name, rows, cols)
	}
	if uint64(len(values)) != rows*cols {
		return "", nil, fmt.Errorf("%w: tensor %q has %d values for %dx%d", ErrBadSnapshot, name, len(values), rows, cols)
	}
	return name, mat.NewDense(int(rows), int(cols), values), nil
}

// SaveFile writes s to path, replacing any existing file.
func SaveFile(path string, s model.Snapshot) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return xerrors.Errorf("checkpoint: create: %w", err)
	}
	if err := Write(f, s); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return xerrors.Errorf("checkpoint: close: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadFile reads a snapshot from path.
func LoadFile(path string) (model.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Snapshot{}, xerrors.Errorf("checkpoint: open: %w", err)
	}
	defer f.Close()
	return Read(f)
}
