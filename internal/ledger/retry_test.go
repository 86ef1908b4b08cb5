package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

var fastPolicy = retryPolicy{maxAttempts: 4, baseDelay: time.Millisecond, jitterFactor: 0.3}

func Test_retryWithBackoff_SuccessNoRetries(t *testing.T) {
	calls := 0
	attempts, err := retryWithBackoff(context.Background(), fastPolicy, isConflict, nil, func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func Test_retryWithBackoff_RetriesConflicts(t *testing.T) {
	calls := 0
	var retried []int
	attempts, err := retryWithBackoff(context.Background(), fastPolicy, isConflict,
		func(attempt int, err error) {
			retried = append(retried, attempt)
			assert.ErrorIs(t, err, store.ErrConflict)
		},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return store.ErrConflict
			}
			return nil
		},
	)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func Test_retryWithBackoff_PermanentErrorFailsFast(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	attempts, err := retryWithBackoff(context.Background(), fastPolicy, isConflict, nil, func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func Test_retryWithBackoff_ExhaustsBudget(t *testing.T) {
	calls := 0
	attempts, err := retryWithBackoff(context.Background(), fastPolicy, isConflict, nil, func(context.Context) error {
		calls++
		return store.ErrConflict
	})

	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, fastPolicy.maxAttempts, calls)
	assert.Equal(t, fastPolicy.maxAttempts, attempts)
}

func Test_retryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := retryPolicy{maxAttempts: 5, baseDelay: time.Hour}

	calls := 0
	_, err := retryWithBackoff(ctx, slow, isConflict, nil, func(context.Context) error {
		calls++
		cancel()
		return store.ErrConflict
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func Test_canonicalID(t *testing.T) {
	id, ok := canonicalID("6F9619FF-8B86-D011-B42D-00C04FC964FF")
	assert.True(t, ok)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", id)

	_, ok = canonicalID("507f1f77bcf86cd799439011")
	assert.False(t, ok)
	_, ok = canonicalID("")
	assert.False(t, ok)
}

func Test_outcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "out_of_stock", outcome(ErrOutOfStock))
	assert.Equal(t, "inconsistent", outcome(ErrInconsistent))
	assert.Equal(t, "transaction_failure", outcome(errors.Join(ErrTransactionFailure, store.ErrConflict)))
	assert.Equal(t, "error", outcome(errors.New("other")))
}
