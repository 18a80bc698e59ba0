package gamification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/ledger"
)

type fakeRewarder struct {
	calls []string
	err   error
}

func (f *fakeRewarder) Reward(_ context.Context, userID uint64, amount int64, desc string) (ledger.User, error) {
	if f.err != nil {
		return ledger.User{}, f.err
	}
	f.calls = append(f.calls, desc)
	return ledger.User{ID: userID, Balance: amount}, nil
}

func TestRewardHookPaysBonuses(t *testing.T) {
	r := &fakeRewarder{}
	h := NewRewardHook(r, zap.NewNop(), 500000, 1000000)

	require.NoError(t, h.OnFirstBuy(context.Background(), 1))
	require.NoError(t, h.OnFirstSell(context.Background(), 1))
	assert.Equal(t, []string{"quest trade_first", "quest trade_sell_first"}, r.calls)
}

func TestRewardHookZeroBonusSkips(t *testing.T) {
	r := &fakeRewarder{}
	h := NewRewardHook(r, zap.NewNop(), 0, 0)
	require.NoError(t, h.OnFirstBuy(context.Background(), 1))
	assert.Empty(t, r.calls)
}

func TestRewardHookPropagatesLedgerError(t *testing.T) {
	boom := errors.New("boom")
	h := NewRewardHook(&fakeRewarder{err: boom}, zap.NewNop(), 1, 1)
	assert.ErrorIs(t, h.OnFirstSell(context.Background(), 3), boom)
}

func TestNopIgnoresEvents(t *testing.T) {
	var h Hook = Nop{}
	assert.NoError(t, h.OnFirstBuy(context.Background(), 1))
	assert.NoError(t, h.OnFirstSell(context.Background(), 1))
}
