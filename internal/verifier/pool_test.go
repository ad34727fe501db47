package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	hashes []string
	err    error
	calls  int
}

func (f *fakeSource) LatestBlockHashes(_ context.Context, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.hashes, f.err
}

func TestTrailingDigit(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"00000000abc123def7", 7},
		{"deadbeef4a", 4}, // last literal digit, not last character
		{"9", 9},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TrailingDigit(tt.input), "input %q", tt.input)
	}

	// No decimal digit at all: checksum fallback, stable per input.
	d := TrailingDigit("abcdef")
	assert.Equal(t, d, TrailingDigit("abcdef"))
	assert.GreaterOrEqual(t, d, 0)
	assert.Less(t, d, 10)
}

func TestReplenishBucketsByTrailingDigit(t *testing.T) {
	src := &fakeSource{hashes: []string{
		"aaa1", "bbb1", "ccc2", "ddd9",
	}}
	pool := New(src, []int{30}, clockwork.NewFakeClock())

	require.NoError(t, pool.Replenish(context.Background(), 30))

	proof, external := pool.Proof(context.Background(), 2, 30)
	assert.True(t, external)
	assert.Equal(t, "ccc2", proof)

	proof, external = pool.Proof(context.Background(), 9, 30)
	assert.True(t, external)
	assert.Equal(t, "ddd9", proof)

	// Both digit-1 proofs are there; pop order is LIFO but both must come
	// out external.
	_, external = pool.Proof(context.Background(), 1, 30)
	assert.True(t, external)
	_, external = pool.Proof(context.Background(), 1, 30)
	assert.True(t, external)
}

func TestProofSynthesizesWhenBucketEmpty(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	pool := New(src, []int{60}, clockwork.NewFakeClock())

	proof, external := pool.Proof(context.Background(), 3, 60)
	assert.False(t, external)
	require.Len(t, proof, 64)
	assert.Equal(t, byte('3'), proof[len(proof)-1], "synthesized proof must end in the outcome digit")
}

func TestReplenishRespectsBucketCap(t *testing.T) {
	hashes := make([]string, 30)
	for i := range hashes {
		hashes[i] = "hash5" // all land in the digit-5 bucket
	}
	src := &fakeSource{hashes: hashes}
	pool := New(src, []int{30}, clockwork.NewFakeClock(), WithBucketCap(3))

	require.NoError(t, pool.Replenish(context.Background(), 30))

	for i := 0; i < 3; i++ {
		_, external := pool.Proof(context.Background(), 5, 30)
		assert.True(t, external, "proof %d", i)
	}
	_, external := pool.Proof(context.Background(), 5, 30)
	assert.False(t, external, "bucket capped at 3")
}

func TestReplenishSurfacesSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	pool := New(src, []int{30}, clockwork.NewFakeClock())
	assert.Error(t, pool.Replenish(context.Background(), 30))
}

func TestProofForUnknownDurationStillWorks(t *testing.T) {
	pool := New(&fakeSource{}, []int{30}, clockwork.NewFakeClock())
	proof, external := pool.Proof(context.Background(), 8, 999)
	assert.False(t, external)
	assert.Len(t, proof, 64)
}
