package validate

import (
	"testing"

	"github.com/kjk/chronsynth/appendstore"
	"github.com/kjk/chronsynth/codec"
	"github.com/kjk/chronsynth/pebblestore"
	"github.com/kjk/chronsynth/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *appendstore.Store {
	s := &appendstore.Store{DataDir: t.TempDir()}
	require.NoError(t, appendstore.OpenStore(s))
	t.Cleanup(func() { s.Close() })
	return s
}

func buildWithPipeline(t *testing.T, s *appendstore.Store, workers, messages int) {
	newWriter := func(name string) (pipeline.RecordWriter, error) {
		w, err := s.NewWriter(name)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	_, err := pipeline.Run(newWriter, workers, messages)
	require.NoError(t, err)
}

// appendRaw appends a record whose index is index and whose fields are
// those of a record with index fieldsOf
func appendRaw(t *testing.T, w *appendstore.Writer, index uint32, fieldsOf uint32) {
	require.NoError(t, w.BeginRecord())
	w.WriteUint32(index)
	for _, f := range codec.Expected(fieldsOf).Fields {
		switch f.Kind {
		case codec.Float:
			w.WriteFloat64(f.Float)
		case codec.String:
			w.WriteString(f.Str)
		case codec.Byte:
			w.WriteUint8(f.Byte)
		case codec.Long:
			w.WriteInt64(f.Long)
		case codec.Char:
			w.WriteChar(f.Char)
		}
	}
	require.NoError(t, w.EndRecord())
}

func appendGood(t *testing.T, w *appendstore.Writer, index uint32) {
	appendRaw(t, w, index, index)
}

func validateStore(t *testing.T, s *appendstore.Store, opts Options) (*Report, error) {
	r, err := s.NewReader()
	require.NoError(t, err)
	defer r.Close()
	return Validate(r, opts)
}

func TestEndToEnd3x10(t *testing.T) {
	s := openStore(t)
	buildWithPipeline(t, s, 3, 10)

	rep, err := validateStore(t, s, Options{CheckCount: true, ExpectCount: 10, Workers: 3})
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.True(t, rep.OK())
	assert.Equal(t, 10, rep.Records)
	// sum of i % 10 for i in 0..9
	assert.Equal(t, 45, rep.Fields)

	r, err := s.NewReader()
	require.NoError(t, err)
	defer r.Close()
	for i := 0; r.Advance(); i++ {
		rec, err := codec.Decode(r)
		require.NoError(t, err)
		require.Equal(t, uint32(i), rec.Index)
		require.Equal(t, pipeline.WriterName(i%3), r.WriterName())
		if i == 0 {
			require.Empty(t, rec.Fields)
		}
		if i == 7 {
			require.Equal(t, "w1", r.WriterName())
			require.Equal(t, []codec.FieldKind{0, 1, 2, 3, 4, 0, 1}, codec.Shape(rec.Index))
			require.Len(t, rec.Fields, 7)
		}
	}
	require.NoError(t, r.Err())
}

func TestMatrix(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 5} {
		for _, messages := range []int{0, 1, 10, 1000} {
			s := openStore(t)
			buildWithPipeline(t, s, workers, messages)
			rep, err := validateStore(t, s, Options{CheckCount: true, ExpectCount: messages, Workers: workers})
			require.NoError(t, err)
			require.NoError(t, rep.Err(), "workers: %d, messages: %d", workers, messages)
		}
	}
}

func TestRereadIsIdentical(t *testing.T) {
	s := openStore(t)
	buildWithPipeline(t, s, 2, 100)
	rep1, err := validateStore(t, s, Options{Workers: 2})
	require.NoError(t, err)
	rep2, err := validateStore(t, s, Options{Workers: 2})
	require.NoError(t, err)
	require.Equal(t, rep1, rep2)
}

func TestFieldMismatches(t *testing.T) {
	s := openStore(t)
	w, err := s.NewWriter("w0")
	require.NoError(t, err)
	appendGood(t, w, 0)
	// index 1 and 11 have the same shape but different values
	appendRaw(t, w, 1, 11)
	appendGood(t, w, 2)
	appendRaw(t, w, 3, 13)
	require.NoError(t, w.Close())

	rep, err := validateStore(t, s, Options{Workers: 1})
	require.NoError(t, err)
	require.Equal(t, 4, rep.Records)
	// all mismatches are collected, not just the first
	require.Len(t, rep.Mismatches, 1+3)
	m := rep.Mismatches[0]
	assert.Equal(t, uint32(1), m.Index)
	assert.Equal(t, 0, m.Position)
	assert.Equal(t, codec.Float, m.Kind)
	assert.Equal(t, 1.0, m.Expected.Float)
	assert.Equal(t, 1.0/11, m.Actual.Float)

	positions := []int{}
	for _, m := range rep.Mismatches[1:] {
		assert.Equal(t, uint32(3), m.Index)
		positions = append(positions, m.Position)
	}
	assert.Equal(t, []int{0, 1, 2}, positions)

	err = rep.Err()
	var merr *MismatchError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, err.Error(), "4 field mismatches")
	assert.Contains(t, err.Error(), "index 1 field 0 (float)")
}

func TestSequenceAndCount(t *testing.T) {
	s := openStore(t)
	w, err := s.NewWriter("w0")
	require.NoError(t, err)
	for _, idx := range []uint32{0, 1, 3, 2} {
		appendGood(t, w, idx)
	}
	require.NoError(t, w.Close())

	rep, err := validateStore(t, s, Options{CheckCount: true, ExpectCount: 5})
	require.NoError(t, err)
	assert.Empty(t, rep.Mismatches)
	assert.Equal(t, []SequenceMismatch{{2, 3}, {3, 2}}, rep.Sequence)
	assert.True(t, rep.BadCount)
	assert.Contains(t, rep.Err().Error(), "expected 5 records, got 4")

	rep, err = validateStore(t, s, Options{AllowGaps: true, CheckCount: true, ExpectCount: 4})
	require.NoError(t, err)
	assert.NoError(t, rep.Err())
}

func TestOwnership(t *testing.T) {
	s := openStore(t)
	w0, err := s.NewWriter("w0")
	require.NoError(t, err)
	w1, err := s.NewWriter("w1")
	require.NoError(t, err)
	appendGood(t, w0, 0)
	appendGood(t, w0, 1)
	appendGood(t, w0, 2)
	appendGood(t, w1, 3)

	rep, err := validateStore(t, s, Options{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, []OwnershipMismatch{
		{Index: 1, Expected: "w1", Actual: "w0"},
	}, rep.Ownership)

	// ownership isn't checked without Workers
	rep, err = validateStore(t, s, Options{})
	require.NoError(t, err)
	assert.True(t, rep.OK())
}

func TestTruncatedRecord(t *testing.T) {
	s := openStore(t)
	w, err := s.NewWriter("w0")
	require.NoError(t, err)
	appendGood(t, w, 0)
	// index 9 needs 9 fields, write only 2
	require.NoError(t, w.BeginRecord())
	w.WriteUint32(9)
	w.WriteFloat64(1.0 / 9)
	w.WriteString(codec.StrOfSize(9))
	require.NoError(t, w.EndRecord())
	appendGood(t, w, 2)

	rep, err := validateStore(t, s, Options{})
	require.ErrorIs(t, err, codec.ErrTruncatedRecord)
	require.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "record 1")
	assert.Equal(t, 0, rep.Records)
}

func TestTrailingBytes(t *testing.T) {
	s := openStore(t)
	w, err := s.NewWriter("w0")
	require.NoError(t, err)
	require.NoError(t, w.BeginRecord())
	w.WriteUint32(0)
	w.WriteUint8(1)
	require.NoError(t, w.EndRecord())

	_, err = validateStore(t, s, Options{})
	require.ErrorIs(t, err, codec.ErrCorruptRecord)
}

func TestPebbleBackend(t *testing.T) {
	s, err := pebblestore.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	newWriter := func(name string) (pipeline.RecordWriter, error) {
		w, err := s.NewWriter(name)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	_, err = pipeline.Run(newWriter, 3, 200)
	require.NoError(t, err)

	r, err := s.NewReader()
	require.NoError(t, err)
	defer r.Close()
	rep, err := Validate(r, Options{CheckCount: true, ExpectCount: 200, Workers: 3})
	require.NoError(t, err)
	require.NoError(t, rep.Err())
}
