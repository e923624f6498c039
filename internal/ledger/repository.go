package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientFunds = errors.New("insufficient horseshoes")
	ErrAccountNotFound   = errors.New("account not found")
)

type Repository interface {
	GetOrCreate(ctx context.Context, userID string) (*Account, error)
	ApplyDelta(ctx context.Context, userID string, delta int64, txType string) (int64, error)
	GrantDailyBonus(ctx context.Context, userID string, today string, amount int64) (bool, int64, error)
	Append(ctx context.Context, t *Transaction) error
	AppendTx(ctx context.Context, tx *gorm.DB, t *Transaction) error
	ListAccounts(ctx context.Context) ([]Account, error)
	CurrencyTotals(ctx context.Context) (map[string]int64, error)
}

type RepositoryImpl struct {
	db              *gorm.DB
	startingBalance int64
}

func NewRepositoryImpl(db *gorm.DB, startingBalance int64) Repository {
	return &RepositoryImpl{db: db, startingBalance: startingBalance}
}

// GetOrCreate inserts the account with the starting balance if it does not
// exist yet and returns the current row. This is the only creation path;
// there is no explicit registration.
func (r *RepositoryImpl) GetOrCreate(ctx context.Context, userID string) (*Account, error) {
	a := Account{
		ID:             userID,
		Horseshoes:     r.startingBalance,
		LastDailyBonus: EpochBonusDate,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&a).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	var out Account
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &out, nil
}

// ApplyDelta atomically adjusts the balance and appends the matching
// transaction row. The balance check and the update are one conditional
// statement, so two concurrent debits can never drive the balance negative.
func (r *RepositoryImpl) ApplyDelta(ctx context.Context, userID string, delta int64, txType string) (int64, error) {
	var newBalance int64
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&Account{}).
			Where("id = ? AND horseshoes + ? >= 0", userID, delta).
			Updates(map[string]interface{}{
				"horseshoes": gorm.Expr("horseshoes + ?", delta),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var a Account
			if err := dbtx.Where("id = ?", userID).First(&a).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrAccountNotFound
				}
				return err
			}
			return ErrInsufficientFunds
		}

		var a Account
		if err := dbtx.Where("id = ?", userID).First(&a).Error; err != nil {
			return err
		}
		newBalance = a.Horseshoes

		t := &Transaction{
			TransactionID: uuid.New().String(),
			UserID:        userID,
			Type:          txType,
			Unit:          UnitHorseshoes,
			Amount:        delta,
			CreatedAt:     time.Now(),
		}
		return dbtx.Create(t).Error
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrAccountNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to apply delta: %w", err)
	}
	return newBalance, nil
}

// GrantDailyBonus flips last_daily_bonus to today and credits the bonus in
// one conditional update. A second claim on the same day matches zero rows
// and reports granted=false; a race between two claims resolves to exactly
// one grant.
func (r *RepositoryImpl) GrantDailyBonus(ctx context.Context, userID string, today string, amount int64) (bool, int64, error) {
	granted := false
	var newBalance int64
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&Account{}).
			Where("id = ? AND last_daily_bonus <> ?", userID, today).
			Updates(map[string]interface{}{
				"horseshoes":       gorm.Expr("horseshoes + ?", amount),
				"last_daily_bonus": today,
				"updated_at":       time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}

		var a Account
		if err := dbtx.Where("id = ?", userID).First(&a).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		newBalance = a.Horseshoes

		if result.RowsAffected == 0 {
			// Already claimed today.
			return nil
		}
		granted = true

		t := &Transaction{
			TransactionID: uuid.New().String(),
			UserID:        userID,
			Type:          TypeDailyBonus,
			Unit:          UnitHorseshoes,
			Amount:        amount,
			CreatedAt:     time.Now(),
		}
		return dbtx.Create(t).Error
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, 0, err
		}
		return false, 0, fmt.Errorf("failed to grant daily bonus: %w", err)
	}
	return granted, newBalance, nil
}

// Append writes a standalone transaction row outside any balance update.
func (r *RepositoryImpl) Append(ctx context.Context, t *Transaction) error {
	return r.AppendTx(ctx, r.db, t)
}

// AppendTx writes a transaction row inside the caller's transaction. Used
// by multi-step units (crafting) that must log atomically with their own
// mutations.
func (r *RepositoryImpl) AppendTx(ctx context.Context, tx *gorm.DB, t *Transaction) error {
	if t.TransactionID == "" {
		t.TransactionID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := r.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// CurrencyTotals sums horseshoe-unit transaction amounts per account.
func (r *RepositoryImpl) CurrencyTotals(ctx context.Context) (map[string]int64, error) {
	type row struct {
		UserID string
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&Transaction{}).
		Select("user_id, COALESCE(SUM(amount), 0) AS total").
		Where("unit = ?", UnitHorseshoes).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}

	totals := make(map[string]int64, len(rows))
	for _, r := range rows {
		totals[r.UserID] = r.Total
	}
	return totals, nil
}
