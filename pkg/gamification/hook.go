package gamification

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/ledger"
)

const (
	QuestFirstBuy  = "trade_first"
	QuestFirstSell = "trade_sell_first"
)

// Hook is notified after a user's first buy or sell fill has been committed.
// Settlement never waits on or rolls back because of a hook.
type Hook interface {
	OnFirstBuy(ctx context.Context, userID uint64) error
	OnFirstSell(ctx context.Context, userID uint64) error
}

type Rewarder interface {
	Reward(ctx context.Context, userID uint64, amount int64, description string) (ledger.User, error)
}

// RewardHook pays a cash bonus for each first-fill quest
type RewardHook struct {
	rewarder  Rewarder
	log       *zap.Logger
	buyBonus  int64
	sellBonus int64
}

func NewRewardHook(r Rewarder, log *zap.Logger, buyBonus, sellBonus int64) *RewardHook {
	return &RewardHook{rewarder: r, log: log.Named("quests"), buyBonus: buyBonus, sellBonus: sellBonus}
}

func (h *RewardHook) OnFirstBuy(ctx context.Context, userID uint64) error {
	return h.pay(ctx, userID, QuestFirstBuy, h.buyBonus)
}

func (h *RewardHook) OnFirstSell(ctx context.Context, userID uint64) error {
	return h.pay(ctx, userID, QuestFirstSell, h.sellBonus)
}

func (h *RewardHook) pay(ctx context.Context, userID uint64, quest string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	u, err := h.rewarder.Reward(ctx, userID, amount, "quest "+quest)
	if err != nil {
		return err
	}
	h.log.Info("quest_completed",
		zap.Uint64("user_id", userID),
		zap.String("quest", quest),
		zap.Int64("reward", amount),
		zap.Int64("balance", u.Balance),
	)
	return nil
}

// Nop ignores every event
type Nop struct{}

func (Nop) OnFirstBuy(context.Context, uint64) error  { return nil }
func (Nop) OnFirstSell(context.Context, uint64) error { return nil }
