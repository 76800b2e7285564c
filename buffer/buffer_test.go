package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushBackReadRoundTrip(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBack([]byte("hello"))
	require.Equal(t, 5, b.ReadableBytes())
	got, err := b.Read(5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.Equal(t, 0, b.ReadableBytes())
}

func TestPushBackIntRoundTrip(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBackInt16(1234)
	b.PushBackInt32(567890)
	b.PushBackInt64(1 << 40)

	v16, err := b.ReadInt16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, v16)

	v32, err := b.ReadInt32()
	require.NoError(t, err)
	require.EqualValues(t, 567890, v32)

	v64, err := b.ReadInt64()
	require.NoError(t, err)
	require.EqualValues(t, 1<<40, v64)
}

func TestPushFrontInt64RoundTrip(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBack([]byte("body"))
	b.PushFrontInt64(12345)

	v, err := b.PeekInt64()
	require.NoError(t, err)
	require.EqualValues(t, 12345, v)

	v2, err := b.ReadInt64()
	require.NoError(t, err)
	require.EqualValues(t, 12345, v2)

	rest, err := b.Read(4)
	require.NoError(t, err)
	require.Equal(t, "body", string(rest))
}

func TestPushFrontFitsInHeadroom(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBack([]byte("payload"))
	before := b.head
	b.PushFrontInt32(42)
	require.Less(t, b.head, before)
}

func TestPushFrontShiftsWhenHeadroomExhausted(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBack([]byte("x"))
	// Drain the headroom by repeatedly prepending until head==0.
	for b.head > 0 {
		b.PushFront([]byte{0})
	}
	before := b.ReadableBytes()
	b.PushFront([]byte{1, 2, 3})
	require.Equal(t, before+3, b.ReadableBytes())
}

func TestPushFrontGrowsWhenNoRoom(t *testing.T) {
	t.Parallel()
	b := NewSize(4)
	large := make([]byte, 100)
	b.PushFront(large)
	require.Equal(t, 100, b.ReadableBytes())
}

func TestRetrieveAllShrinksAfterGrowth(t *testing.T) {
	t.Parallel()
	b := NewSize(16)
	b.PushBack(make([]byte, 200))
	require.Greater(t, len(b.buf), 16*2)
	b.RetrieveAll()
	require.Equal(t, 0, b.ReadableBytes())
	require.LessOrEqual(t, len(b.buf), 16+headroom)
}

func TestRetrieveAllDoesNotShrinkSmallBuffer(t *testing.T) {
	t.Parallel()
	b := NewSize(2048)
	b.PushBack([]byte("small"))
	before := len(b.buf)
	b.RetrieveAll()
	require.Equal(t, before, len(b.buf))
}

func TestFindCRLF(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBack([]byte("hello\r\nworld"))
	idx := b.FindCRLF()
	require.Equal(t, 5, idx)
}

func TestFindCRLFNotFound(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBack([]byte("no terminator here"))
	require.Equal(t, -1, b.FindCRLF())
}

func TestEnsureWritableBytesCompactsBeforeGrowing(t *testing.T) {
	t.Parallel()
	b := NewSize(32)
	b.PushBack(make([]byte, 20))
	b.Retrieve(15)
	capBefore := len(b.buf)
	b.EnsureWritableBytes(20)
	require.Equal(t, capBefore, len(b.buf), "compaction should have sufficed without growing")
	require.Equal(t, headroom, b.head)
}

func TestReadShortBufferError(t *testing.T) {
	t.Parallel()
	b := New()
	b.PushBack([]byte("ab"))
	_, err := b.Read(10)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestLengthPrefixedFraming(t *testing.T) {
	t.Parallel()
	// Mirrors the boundary scenario from the spec: a sender pushes a
	// length prefix in front of an already-buffered body.
	b := New()
	b.PushBack([]byte("hello world!"))
	b.PushFrontInt64(12)

	length, err := b.ReadInt64()
	require.NoError(t, err)
	require.EqualValues(t, 12, length)

	body, err := b.Read(int(length))
	require.NoError(t, err)
	require.Equal(t, "hello world!", string(body))
	require.Equal(t, 0, b.ReadableBytes())
}
