package postgres

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	pqErr := &pq.Error{Code: "23505", Message: "duplicate key value"}
	err := describe(pqErr)
	assert.Contains(t, err.Error(), "unique_violation")
	assert.Contains(t, err.Error(), "23505")

	var target *pq.Error
	assert.True(t, errors.As(err, &target))

	plain := errors.New("connection refused")
	assert.Equal(t, plain, describe(plain))
}
