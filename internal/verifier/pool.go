// Package verifier maintains per-duration pools of externally-sourced proof
// strings, bucketed by the digit each proof ends in. A proof gives bettors
// an auditable fairness artifact; it is advisory tooling and its failure
// never blocks outcome commitment.
package verifier

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/metrics"
)

// Source supplies fresh proof candidates. clients/tronscan implements it.
type Source interface {
	LatestBlockHashes(ctx context.Context, limit int) ([]string, error)
}

const (
	defaultBucketCap    = 10
	defaultFetchLimit   = 50
	replenishTimeout    = 20 * time.Second
	synthProofHexLength = 64
)

// Pool holds pre-fetched proofs per duration, per trailing digit.
type Pool struct {
	source    Source
	bucketCap int
	clock     clockwork.Clock

	mu      sync.Mutex
	buckets map[int]map[int][]string // durationSeconds -> digit -> proofs
	filling map[int]bool             // replenishment in flight per duration
	rng     *rand.Rand
}

// Option tweaks pool construction.
type Option func(*Pool)

// WithBucketCap bounds how many proofs one digit bucket holds.
func WithBucketCap(n int) Option {
	return func(p *Pool) { p.bucketCap = n }
}

// New creates a pool with empty buckets for every duration.
func New(source Source, durations []int, clock clockwork.Clock, opts ...Option) *Pool {
	p := &Pool{
		source:    source,
		bucketCap: defaultBucketCap,
		clock:     clock,
		buckets:   make(map[int]map[int][]string, len(durations)),
		filling:   make(map[int]bool, len(durations)),
		rng:       rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
	for _, d := range durations {
		p.buckets[d] = make(map[int][]string)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Proof pops a proof whose trailing digit matches the outcome digit. When
// the bucket is empty it synthesizes a random-looking but unverifiable proof
// and kicks off asynchronous replenishment. The second return value reports
// whether the proof is externally sourced.
func (p *Pool) Proof(_ context.Context, digit, durationSeconds int) (string, bool) {
	p.mu.Lock()
	bucket := p.buckets[durationSeconds]
	if bucket == nil {
		bucket = make(map[int][]string)
		p.buckets[durationSeconds] = bucket
	}
	if proofs := bucket[digit]; len(proofs) > 0 {
		proof := proofs[len(proofs)-1]
		bucket[digit] = proofs[:len(proofs)-1]
		p.mu.Unlock()
		p.updatePoolGauge(durationSeconds)
		return proof, true
	}
	synth := p.synthesizeLocked(digit)
	trigger := !p.filling[durationSeconds]
	if trigger {
		p.filling[durationSeconds] = true
	}
	p.mu.Unlock()

	metrics.ProofSynthesized.Inc()
	if trigger {
		go p.replenishAsync(durationSeconds)
	}
	return synth, false
}

func (p *Pool) replenishAsync(durationSeconds int) {
	ctx, cancel := context.WithTimeout(context.Background(), replenishTimeout)
	defer cancel()
	if err := p.Replenish(ctx, durationSeconds); err != nil {
		log.Warn().Err(err).Int("duration", durationSeconds).Msg("proof pool replenishment failed")
	}
	p.mu.Lock()
	p.filling[durationSeconds] = false
	p.mu.Unlock()
}

// Replenish fetches fresh candidates and redistributes them into the digit
// buckets for the duration, respecting the bucket cap.
func (p *Pool) Replenish(ctx context.Context, durationSeconds int) error {
	hashes, err := p.source.LatestBlockHashes(ctx, defaultFetchLimit)
	if err != nil {
		return fmt.Errorf("fetch proof candidates: %w", err)
	}

	p.mu.Lock()
	bucket := p.buckets[durationSeconds]
	if bucket == nil {
		bucket = make(map[int][]string)
		p.buckets[durationSeconds] = bucket
	}
	added := 0
	for _, h := range hashes {
		digit := TrailingDigit(h)
		if len(bucket[digit]) >= p.bucketCap {
			continue
		}
		bucket[digit] = append(bucket[digit], h)
		added++
	}
	p.mu.Unlock()

	p.updatePoolGauge(durationSeconds)
	log.Debug().
		Int("duration", durationSeconds).
		Int("fetched", len(hashes)).
		Int("added", added).
		Msg("replenished proof pool")
	return nil
}

// synthesizeLocked builds an unverifiable hex proof ending in the requested
// digit. Caller holds p.mu.
func (p *Pool) synthesizeLocked(digit int) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, synthProofHexLength)
	for i := range buf {
		buf[i] = hexDigits[p.rng.Intn(len(hexDigits))]
	}
	buf[len(buf)-1] = byte('0' + digit)
	return string(buf)
}

func (p *Pool) updatePoolGauge(durationSeconds int) {
	p.mu.Lock()
	total := 0
	for _, proofs := range p.buckets[durationSeconds] {
		total += len(proofs)
	}
	p.mu.Unlock()
	metrics.ProofPoolSize.WithLabelValues(fmt.Sprintf("%d", durationSeconds)).Set(float64(total))
}

// TrailingDigit returns the last literal decimal digit in s, falling back
// to a checksum-derived digit when the text carries none.
func TrailingDigit(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] >= '0' && s[i] <= '9' {
			return int(s[i] - '0')
		}
	}
	return checksumDigit(s)
}

func checksumDigit(s string) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += int(s[i])
	}
	return sum % 10
}
