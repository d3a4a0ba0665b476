package mask

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New(2, 4)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Batch())
	assert.Equal(t, 4, m.Count())
	assert.Equal(t, 0, m.ValidCount(0))
	assert.Equal(t, 0, m.ValidCount(1))

	_, err = New(0, 4)
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = New(2, -1)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestNewAllValid(t *testing.T) {
	m, err := NewAllValid(3, 5)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 5, m.ValidCount(i))
		for j := 0; j < 5; j++ {
			assert.True(t, m.Contains(i, j))
		}
	}
}

func TestAddRemoveContains(t *testing.T) {
	m, err := New(2, 8)
	require.NoError(t, err)

	m.Add(0, 3)
	m.Add(0, 5)
	m.Add(1, 0)

	assert.True(t, m.Contains(0, 3))
	assert.True(t, m.Contains(0, 5))
	assert.False(t, m.Contains(0, 0))
	assert.True(t, m.Contains(1, 0))
	assert.False(t, m.Contains(1, 3))

	m.Remove(0, 3)
	assert.False(t, m.Contains(0, 3))
	assert.Equal(t, 1, m.ValidCount(0))
}

func TestValidSlotsAscending(t *testing.T) {
	m, err := New(1, 16)
	require.NoError(t, err)

	m.Add(0, 9)
	m.Add(0, 2)
	m.Add(0, 14)

	assert.Equal(t, []uint32{2, 9, 14}, m.ValidSlots(0))
}

func TestDense(t *testing.T) {
	m, err := New(1, 10)
	require.NoError(t, err)

	m.Add(0, 1)
	m.Add(0, 7)

	bs := m.Dense(0)
	for j := 0; j < 10; j++ {
		assert.Equal(t, j == 1 || j == 7, bs.Test(uint(j)), "slot %d", j)
	}
}

func TestClone(t *testing.T) {
	m, err := New(1, 4)
	require.NoError(t, err)
	m.Add(0, 2)

	c := m.Clone()
	c.Add(0, 3)

	assert.True(t, c.Contains(0, 2))
	assert.True(t, c.Contains(0, 3))
	assert.False(t, m.Contains(0, 3))
}

func TestRoundTrip(t *testing.T) {
	m, err := New(3, 100)
	require.NoError(t, err)

	m.Add(0, 0)
	m.Add(0, 99)
	m.Add(2, 42)
	// Batch 1 stays empty.

	var buf bytes.Buffer
	n, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	got, err := ReadFrom(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.Batch(), got.Batch())
	assert.Equal(t, m.Count(), got.Count())
	assert.Equal(t, []uint32{0, 99}, got.ValidSlots(0))
	assert.Equal(t, 0, got.ValidCount(1))
	assert.Equal(t, []uint32{42}, got.ValidSlots(2))
}

func TestReadFromRejectsSlotRange(t *testing.T) {
	m, err := New(1, 8)
	require.NoError(t, err)
	m.Add(0, 7)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)

	// Shrink the declared count below the highest slot.
	raw := buf.Bytes()
	binary.LittleEndian.PutUint32(raw[4:8], 4)

	_, err = ReadFrom(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrSlotRange)
}

func TestReadFromTruncated(t *testing.T) {
	m, err := NewAllValid(2, 16)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.Bytes()
	_, err = ReadFrom(bytes.NewReader(raw[:len(raw)-3]))
	assert.Error(t, err)
}
