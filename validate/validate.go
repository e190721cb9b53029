// Package validate replays records from a store and checks them against
// the values they were generated from.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kjk/chronsynth/codec"
	"github.com/kjk/chronsynth/pipeline"
	"github.com/kjk/chronsynth/wire"
)

// RecordReader is a store reader handle positioned before the first record
type RecordReader interface {
	wire.Reader
	Advance() bool
	Err() error
}

// implemented by store readers that know which handle appended a record
type writerNamer interface {
	WriterName() string
}

// implemented by store readers that can tell unread bytes of a record
type remainder interface {
	Remaining() int
}

type Options struct {
	// if true, number of records must be ExpectCount
	CheckCount  bool
	ExpectCount int
	// if false, n-th record must have index n
	AllowGaps bool
	// if > 0, record i must have been appended by handle pipeline.WriterName(i % Workers)
	Workers int
}

type FieldMismatch struct {
	Index    uint32
	Position int
	Kind     codec.FieldKind
	Expected codec.Field
	Actual   codec.Field
}

func (m FieldMismatch) String() string {
	return fmt.Sprintf("index %d field %d (%s): expected %s, got %s", m.Index, m.Position, m.Kind, m.Expected, m.Actual)
}

// SequenceMismatch is a record whose index isn't its position in the store
type SequenceMismatch struct {
	Position int
	Index    uint32
}

func (m SequenceMismatch) String() string {
	return fmt.Sprintf("record %d has index %d", m.Position, m.Index)
}

// OwnershipMismatch is a record appended by a handle that doesn't own its index
type OwnershipMismatch struct {
	Index    uint32
	Expected string
	Actual   string
}

func (m OwnershipMismatch) String() string {
	return fmt.Sprintf("index %d written by '%s', expected '%s'", m.Index, m.Actual, m.Expected)
}

type Report struct {
	Records int
	Fields  int

	Mismatches []FieldMismatch
	Sequence   []SequenceMismatch
	Ownership  []OwnershipMismatch
	// set if Options.CheckCount and Records != Options.ExpectCount
	BadCount    bool
	ExpectCount int
}

func (r *Report) OK() bool {
	return len(r.Mismatches) == 0 && len(r.Sequence) == 0 && len(r.Ownership) == 0 && !r.BadCount
}

// Err returns *MismatchError if the report has problems, nil otherwise
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &MismatchError{Report: r}
}

// MismatchError summarizes problems of a Report
type MismatchError struct {
	Report *Report
}

// show at most this many problems of each kind in Error()
const maxShown = 5

func (e *MismatchError) Error() string {
	r := e.Report
	var parts []string
	if r.BadCount {
		parts = append(parts, fmt.Sprintf("expected %d records, got %d", r.ExpectCount, r.Records))
	}
	add := func(what string, n int, str func(i int) string) {
		if n == 0 {
			return
		}
		s := fmt.Sprintf("%d %s", n, what)
		for i := 0; i < n && i < maxShown; i++ {
			s += "; " + str(i)
		}
		if n > maxShown {
			s += "; ..."
		}
		parts = append(parts, s)
	}
	add("field mismatches", len(r.Mismatches), func(i int) string { return r.Mismatches[i].String() })
	add("out of sequence records", len(r.Sequence), func(i int) string { return r.Sequence[i].String() })
	add("records from wrong writer", len(r.Ownership), func(i int) string { return r.Ownership[i].String() })
	return "validate: " + strings.Join(parts, ", ")
}

// Validate reads all records from r and compares them with codec.Expected.
// Mismatches are collected in the report. Records that can't be decoded
// abort validation with an error naming the record position.
func Validate(r RecordReader, opts Options) (*Report, error) {
	res := &Report{
		ExpectCount: opts.ExpectCount,
	}
	namer, _ := r.(writerNamer)
	rem, _ := r.(remainder)
	pos := 0
	for r.Advance() {
		rec, err := codec.Decode(r)
		if err != nil {
			return res, fmt.Errorf("record %d: %w", pos, err)
		}
		if rem != nil {
			if n := rem.Remaining(); n > 0 {
				return res, fmt.Errorf("record %d: %w: index %d, %d trailing bytes", pos, codec.ErrCorruptRecord, rec.Index, n)
			}
		}
		checkRecord(res, rec)
		if !opts.AllowGaps && rec.Index != uint32(pos) {
			res.Sequence = append(res.Sequence, SequenceMismatch{Position: pos, Index: rec.Index})
		}
		if opts.Workers > 0 && namer != nil {
			exp := pipeline.WriterName(int(rec.Index % uint32(opts.Workers)))
			if got := namer.WriterName(); got != exp {
				res.Ownership = append(res.Ownership, OwnershipMismatch{Index: rec.Index, Expected: exp, Actual: got})
			}
		}
		pos++
	}
	res.Records = pos
	if err := r.Err(); err != nil {
		return res, fmt.Errorf("record %d: %w", pos, err)
	}
	if opts.CheckCount && res.Records != opts.ExpectCount {
		res.BadCount = true
	}
	return res, nil
}

func checkRecord(res *Report, rec *codec.Record) {
	exp := codec.Expected(rec.Index)
	res.Fields += len(rec.Fields)
	for i, f := range rec.Fields {
		if !f.Equal(exp.Fields[i]) {
			res.Mismatches = append(res.Mismatches, FieldMismatch{
				Index:    rec.Index,
				Position: i,
				Kind:     exp.Fields[i].Kind,
				Expected: exp.Fields[i],
				Actual:   f,
			})
		}
	}
}

// IsDecodeError returns true if err is from a record that couldn't be decoded
func IsDecodeError(err error) bool {
	return errors.Is(err, codec.ErrTruncatedRecord) || errors.Is(err, codec.ErrCorruptRecord)
}
