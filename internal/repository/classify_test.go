package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/Shivanand-hulikatti/library-lending/internal/store"
)

func TestClassifyPg(t *testing.T) {
	tests := []struct {
		code     string
		conflict bool
	}{
		{pgSerializationFailure, true},
		{pgDeadlockDetected, true},
		{"23505", false}, // unique_violation
		{"23514", false}, // check_violation
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cause := fmt.Errorf("insert: %w", &pgconn.PgError{Code: tt.code})
			err := classifyPg(cause)
			assert.Equal(t, tt.conflict, errors.Is(err, store.ErrConflict))
			assert.ErrorIs(t, err, cause)
		})
	}

	plain := errors.New("connection reset")
	assert.Same(t, plain, classifyPg(plain))
}
