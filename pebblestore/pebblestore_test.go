package pebblestore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendN(t *testing.T, w *Writer, from, n int) {
	for i := from; i < from+n; i++ {
		require.NoError(t, w.BeginRecord())
		w.WriteUint32(uint32(i))
		w.WriteString(fmt.Sprintf("rec %d", i))
		require.NoError(t, w.EndRecord())
	}
}

func readAll(t *testing.T, s *Store) ([]uint32, []string) {
	r, err := s.NewReader()
	require.NoError(t, err)
	defer r.Close()
	var nums []uint32
	var writers []string
	for r.Advance() {
		n, err := r.ReadUint32()
		require.NoError(t, err)
		str, err := r.ReadString()
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("rec %d", n), str)
		require.Equal(t, 0, r.Remaining())
		nums = append(nums, n)
		writers = append(writers, r.WriterName())
	}
	require.NoError(t, r.Err())
	return nums, writers
}

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	w0, err := s.NewWriter("w0")
	require.NoError(t, err)
	w1, err := s.NewWriter("w1")
	require.NoError(t, err)
	appendN(t, w0, 0, 5)
	appendN(t, w1, 5, 5)
	appendN(t, w0, 10, 20)
	assert.NoError(t, w0.Close())
	assert.ErrorIs(t, w0.Close(), ErrClosed)
	assert.NoError(t, w1.Close())

	nums, writers := readAll(t, s)
	require.Len(t, nums, 30)
	for i, n := range nums {
		assert.Equal(t, uint32(i), n)
		if i >= 5 && i < 10 {
			assert.Equal(t, "w1", writers[i])
		} else {
			assert.Equal(t, "w0", writers[i])
		}
	}
	require.NoError(t, s.Close())

	// sequence continues after re-open
	s, err = Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, s.RecordCount())
	w, err := s.NewWriter("w2")
	require.NoError(t, err)
	appendN(t, w, 30, 1)
	nums, _ = readAll(t, s)
	require.Len(t, nums, 31)
	assert.Equal(t, uint32(30), nums[30])

	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.RecordCount())
	nums, _ = readAll(t, s)
	assert.Empty(t, nums)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.NewReader()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriteOutsideRecord(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	w, err := s.NewWriter("w0")
	require.NoError(t, err)
	w.WriteUint32(1)
	assert.ErrorIs(t, w.EndRecord(), errNotInRecord)
	assert.Equal(t, 0, s.RecordCount())

	require.NoError(t, w.BeginRecord())
	assert.ErrorIs(t, w.BeginRecord(), errInRecord)
	w.WriteUint32(2)
	require.NoError(t, w.EndRecord())
	assert.Equal(t, 1, s.RecordCount())
}

func TestKeyOrder(t *testing.T) {
	for _, seq := range []uint64{0, 9, 10, 1 << 40} {
		k := keyFor(seq)
		got, err := parseKey(k)
		require.NoError(t, err)
		assert.Equal(t, seq, got)
		assert.True(t, string(keyLowerBound) < string(k) && string(k) < string(keyUpperBound))
	}
	assert.True(t, string(keyFor(9)) < string(keyFor(10)))
}
