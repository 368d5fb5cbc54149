package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlogica-project/voxlogica-core/plan"
)

func TestClaim_FirstCallerClaimsSubsequentObserveComputing(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")

	outcome, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Claimed, outcome)

	outcome2, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AlreadyComputing, outcome2)
}

func TestClaim_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")

	var wg sync.WaitGroup
	var claimedCount int
	var mu sync.Mutex
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := s.Claim(context.Background(), id)
			require.NoError(t, err)
			if outcome == Claimed {
				mu.Lock()
				claimedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimedCount)
}

func TestPutSuccess_ThenClaimObservesAlreadySucceeded(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")

	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, s.PutSuccess(context.Background(), id, 42.0, "json"))

	outcome, rec, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AlreadySucceeded, outcome)
	assert.Equal(t, 42.0, rec.Payload)
}

func TestPutFailure_ThenClaimObservesAlreadyFailed(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")
	cause := errors.New("kernel exploded")

	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, s.PutFailure(context.Background(), id, cause))

	outcome, rec, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AlreadyFailed, outcome)
	assert.ErrorIs(t, rec.Err, cause)
}

func TestAwait_BlocksUntilTerminalThenReturnsImmediatelyAfter(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")
	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)

	done := make(chan ResultRecord, 1)
	go func() {
		rec, err := s.Await(context.Background(), id)
		require.NoError(t, err)
		done <- rec
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.PutSuccess(context.Background(), id, "hello", "json"))

	select {
	case rec := <-done:
		assert.Equal(t, "hello", rec.Payload)
	case <-time.After(time.Second):
		t.Fatal("await did not unblock after put_success")
	}

	rec2, err := s.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "hello", rec2.Payload)
}

func TestAwait_MultipleConcurrentAwaitersShareNotification(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")
	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]ResultRecord, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.Await(context.Background(), id)
			require.NoError(t, err)
			results[i] = rec
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.PutSuccess(context.Background(), id, 7.0, "json"))
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 7.0, r.Payload)
	}
}

func TestForget_FailsWhileComputing(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")
	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)

	err = s.Forget(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreBusy)
}

func TestForget_SucceedsOnTerminalRecord(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")
	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, s.PutSuccess(context.Background(), id, 1.0, "json"))

	require.NoError(t, s.Forget(context.Background(), id))
	_, ok, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutSuccess_UnknownCodecFails(t *testing.T) {
	s := New()
	id := plan.NodeId("n1")
	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)

	err = s.PutSuccess(context.Background(), id, 1.0, "no-such-codec")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

// fakeBackend is an in-memory Backend stand-in for testing durable
// round-tripping without depending on store/bbolt.
type fakeBackend struct {
	mu   sync.Mutex
	data map[plan.NodeId][2]string // codecTag, data(as string)
}

func newFakeBackend() *fakeBackend { return &fakeBackend{data: make(map[plan.NodeId][2]string)} }

func (b *fakeBackend) Put(_ context.Context, id plan.NodeId, codecTag string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[id] = [2]string{codecTag, string(data)}
	return nil
}

func (b *fakeBackend) Get(_ context.Context, id plan.NodeId) (string, []byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[id]
	if !ok {
		return "", nil, false, nil
	}
	return v[0], []byte(v[1]), true, nil
}

func (b *fakeBackend) Delete(_ context.Context, id plan.NodeId) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, id)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func TestBackend_SuccessfulPayloadPersistsAndSurvivesClaimTableEviction(t *testing.T) {
	backend := newFakeBackend()
	s := New(WithBackend(backend))
	id := plan.NodeId("n1")

	_, _, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, s.PutSuccess(context.Background(), id, map[string]any{"v": 1.0}, "json"))
	require.NoError(t, s.Forget(context.Background(), id))

	// The in-process claim map entry is gone, but the durable backend
	// still has it: a subsequent Claim must observe AlreadySucceeded
	// rather than handing out a fresh Claimed.
	outcome, rec, err := s.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AlreadySucceeded, outcome)
	assert.Equal(t, map[string]any{"v": 1.0}, rec.Payload)
}
