package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CreateUser opens an account with the initial balance and a DEPOSIT journal line.
// Calling it again with the same username returns the existing account and created=false.
func (s *Store) CreateUser(ctx context.Context, username string) (User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, false, ErrInvalidUsername
	}

	var (
		out     User
		created bool
	)
	err := s.Update(ctx, func(tx *Tx) error {
		var existing uint64
		ok, err := tx.get(usernameKey(username), &existing)
		if err != nil {
			return err
		}
		if ok {
			out, err = tx.User(existing)
			created = false
			return err
		}

		id, err := tx.nextID("user")
		if err != nil {
			return err
		}
		u := User{ID: id, Username: username, Balance: tx.initialBalance, CreatedAt: tx.now}
		if err := tx.putUser(u); err != nil {
			return err
		}
		if err := tx.put(usernameKey(username), id); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(Transaction{
			UserID:       id,
			Type:         TxDeposit,
			Amount:       u.Balance,
			BalanceAfter: u.Balance,
			Description:  "initial deposit",
		}); err != nil {
			return err
		}
		out, created = u, true
		return nil
	})
	if err != nil {
		return User{}, false, err
	}
	if created {
		s.log.Info("user_created", zap.Uint64("user_id", out.ID), zap.String("username", out.Username))
	}
	return out, created, nil
}

func (s *Store) GetUser(userID uint64) (User, error) {
	var u User
	err := s.View(func(tx *Tx) error {
		var err error
		u, err = tx.User(userID)
		return err
	})
	return u, err
}

// Holdings lists a user's non-zero positions by ticker
func (s *Store) Holdings(userID uint64) ([]Holding, error) {
	var out []Holding
	err := s.View(func(tx *Tx) error {
		if _, err := tx.User(userID); err != nil {
			return err
		}
		return tx.scan(holdingPrefix(userID), false, func(_, v []byte) (bool, error) {
			var h Holding
			if err := decode(v, &h); err != nil {
				return false, err
			}
			out = append(out, h)
			return true, nil
		})
	})
	return out, err
}

// Transactions returns the user's journal newest first. limit <= 0 returns everything.
func (s *Store) Transactions(userID uint64, limit int) ([]Transaction, error) {
	var out []Transaction
	err := s.View(func(tx *Tx) error {
		if _, err := tx.User(userID); err != nil {
			return err
		}
		return tx.scan(txPrefix(userID), true, func(_, v []byte) (bool, error) {
			var t Transaction
			if err := decode(v, &t); err != nil {
				return false, err
			}
			out = append(out, t)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	return out, err
}

// Reward credits a bonus with a REWARD journal line
func (s *Store) Reward(ctx context.Context, userID uint64, amount int64, description string) (User, error) {
	if amount <= 0 {
		return User{}, fmt.Errorf("%w: reward %d", ErrInvalidAmount, amount)
	}
	var out User
	err := s.Update(ctx, func(tx *Tx) error {
		u, err := tx.Credit(userID, amount)
		if err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(Transaction{
			UserID:       userID,
			Type:         TxReward,
			Amount:       amount,
			BalanceAfter: u.Balance,
			Description:  description,
		}); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}
