package kernel

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flashsearch/device"
)

func testQueue(t *testing.T) (*device.Context, *device.Queue) {
	t.Helper()

	ctx, err := device.NewContext()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Release(context.Background()) })

	q, err := ctx.NewQueue("test")
	require.NoError(t, err)
	return ctx, q
}

func upload[T device.Element](t *testing.T, ctx *device.Context, q *device.Queue, src []T) *device.Buffer[T] {
	t.Helper()

	buf, err := device.NewBuffer[T](ctx, len(src))
	require.NoError(t, err)
	t.Cleanup(buf.Release)

	_, err = device.EnqueueWrite(q, buf, 0, src)
	require.NoError(t, err)
	return buf
}

func alloc[T device.Element](t *testing.T, ctx *device.Context, n int) *device.Buffer[T] {
	t.Helper()

	buf, err := device.NewBuffer[T](ctx, n)
	require.NoError(t, err)
	t.Cleanup(buf.Release)
	return buf
}

func download[T device.Element](t *testing.T, q *device.Queue, buf *device.Buffer[T], n int) []T {
	t.Helper()

	dst := make([]T, n)
	evt, err := device.EnqueueRead(q, buf, 0, dst)
	require.NoError(t, err)
	require.NoError(t, evt.Wait(context.Background()))
	return dst
}

func randomMatrix(rng *rand.Rand, rows, cols int) []float32 {
	m := make([]float32, rows*cols)
	for i := range m {
		m[i] = rng.Float32()*2 - 1
	}
	return m
}
