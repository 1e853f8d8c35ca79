package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_Convert(t *testing.T) {
	cases := []struct {
		from, to Unit
		in, want string
		err      bool
	}{
		{UnitKilogram, UnitGram, "1.5", "1500", false},
		{UnitGram, UnitKilogram, "250", "0.25", false},
		{UnitLiter, UnitMilliliter, "2", "2000", false},
		{UnitGram, UnitGram, "7", "7", false},
		{UnitLiter, UnitGram, "1", "", true},
		{Unit("oz"), UnitGram, "1", "", true},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s->%s", c.from, c.to), func(t *testing.T) {
			got, err := c.from.Convert(decimal.RequireFromString(c.in), c.to)
			if c.err {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(c.want)), got.String())
		})
	}
}

func TestError_KindsAndSentinels(t *testing.T) {
	err := fmt.Errorf("admit: %w", InsufficientStock(ItemRef(4)))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindInsufficientStock, KindOf(err))
	assert.Equal(t, StockMenuItem, AsError(err).Details["kind"])

	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, AsError(fmt.Errorf("x: %w", context.DeadlineExceeded)).Kind)

	in := AsError(errors.New("boom"))
	assert.Equal(t, KindInternal, in.Kind)
	assert.NotEmpty(t, in.CorrelationID)
	assert.Same(t, in, Internal(in), "wrapping twice keeps the correlation id")
}

func TestChannelKey(t *testing.T) {
	k := BranchChannel(7)
	scope, id, err := k.Parse()
	require.NoError(t, err)
	assert.Equal(t, "branch", scope)
	assert.EqualValues(t, 7, id)
	assert.Equal(t, "branch.7", k.RoutingKey())
	assert.Equal(t, k, ChannelFromRoutingKey(k.RoutingKey()))
	assert.True(t, UserChannel(3).IsUser())

	for _, bad := range []ChannelKey{"", "branch", "table/1", "user/x", "user/0"} {
		_, _, err := bad.Parse()
		assert.ErrorIs(t, err, ErrValidation, string(bad))
	}
}

func TestLineRequest_Validate(t *testing.T) {
	id := int64(1)
	assert.NoError(t, LineRequest{ItemID: &id, Quantity: 1}.Validate())
	assert.Error(t, LineRequest{Quantity: 1}.Validate())
	assert.Error(t, LineRequest{ItemID: &id, ProductID: &id, Quantity: 1}.Validate())
	assert.Error(t, LineRequest{ProductID: &id}.Validate())
}

func TestActor_WorksAt(t *testing.T) {
	b := int64(2)
	assert.True(t, Actor{Role: RoleBarista, BranchID: &b}.WorksAt(2))
	assert.False(t, Actor{Role: RoleBarista, BranchID: &b}.WorksAt(3))
	assert.True(t, Actor{Role: RoleAdmin, BranchID: &b}.WorksAt(3))
	assert.False(t, Actor{Role: RoleClient}.WorksAt(2))
}
