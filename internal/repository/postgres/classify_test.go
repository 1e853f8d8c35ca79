package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"cafe-system/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{"serialization", &pgconn.PgError{Code: codeSerialization}, domain.KindContention},
		{"deadlock", fmt.Errorf("lock: %w", &pgconn.PgError{Code: codeDeadlock}), domain.KindContention},
		{"deadline", context.DeadlineExceeded, domain.KindTimeout},
		{"domain passes through", domain.TableOccupied(1, 2), domain.KindTableOccupied},
		{"unknown", errors.New("connection reset"), domain.KindInternal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, domain.KindOf(classify(c.err, "op")))
		})
	}
	assert.NoError(t, classify(nil, "op"))
}

func TestNotFound(t *testing.T) {
	err := notFound(pgx.ErrNoRows, "order", 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "order 7")

	assert.Equal(t, domain.KindContention, domain.KindOf(notFound(&pgconn.PgError{Code: codeSerialization}, "order", 7)))
}

func TestPgCode(t *testing.T) {
	code, constraint := pgCode(fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: activeTableIndex}))
	assert.Equal(t, codeUniqueViolation, code)
	assert.Equal(t, activeTableIndex, constraint)

	code, _ = pgCode(errors.New("plain"))
	assert.Empty(t, code)
}
