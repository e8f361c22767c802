package pgoutput

import "fmt"

// Column describes a single attribute of a relation as returned by the
// schema resolver: its catalog name and its formatted type name.
type Column struct {
	Name string
	Type string
}

// Kind identifies how a single column value was encoded inside a
// TupleData sub-message.
type Kind byte

const (
	KindNull      Kind = 'n'
	KindUnchanged Kind = 'u'
	KindText      Kind = 't'
)

// Tuple is the decoded column-name to value mapping for one row image. A
// nil value means the column is SQL NULL or was omitted as an
// unchanged-TOAST value (kind 'u'); the two are indistinguishable once
// decoded.
type Tuple map[string]*string

// decodeTuple reads a TupleData sub-message from r. cols gives the
// catalog-ordered column list the tuple must match; a count mismatch
// between the wire data and cols is a fatal decode error.
func decodeTuple(r *Reader, cols []Column) (Tuple, error) {
	n, err := r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("read tuple column count: %w", err)
	}
	if int(n) != len(cols) {
		return nil, fmt.Errorf("%w: tuple has %d columns, relation has %d", ErrColumnCountMismatch, n, len(cols))
	}

	tuple := make(Tuple, n)
	for i := 0; i < int(n); i++ {
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read column %d kind: %w", i, err)
		}

		name := cols[i].Name
		switch Kind(kindByte) {
		case KindNull, KindUnchanged:
			tuple[name] = nil
		case KindText:
			length, err := r.ReadInt32()
			if err != nil {
				return nil, fmt.Errorf("read column %d length: %w", i, err)
			}
			s, err := r.ReadString(int(length))
			if err != nil {
				return nil, fmt.Errorf("read column %d value: %w", i, err)
			}
			tuple[name] = &s
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kindByte)
		}
	}

	return tuple, nil
}
