package ledger

import (
	"time"
)

// EpochBonusDate is the sentinel last-bonus date for accounts that have
// never claimed a daily bonus.
const EpochBonusDate = "1970-01-01"

type Account struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	Horseshoes     int64     `gorm:"column:horseshoes;not null;default:0"`
	LastDailyBonus string    `gorm:"column:last_daily_bonus;type:varchar(10);not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// Transaction is an append-only record of a balance- or fragment-affecting
// event. Rows are never updated or deleted; summing horseshoe-unit amounts
// for an account plus the starting balance must reconcile with the stored
// balance.
type Transaction struct {
	TransactionID string    `gorm:"column:transaction_id;primaryKey;type:uuid"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	Type          string    `gorm:"column:type;type:varchar(40);not null"`
	Unit          string    `gorm:"column:unit;type:varchar(20);not null"`
	Amount        int64     `gorm:"column:amount;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;default:now()"`
}

const (
	TypeFreeBetPlaced  = "free_bet_placed"
	TypeFreeBetWin     = "free_bet_win"
	TypeDailyBonus     = "daily_bonus"
	TypeStarsFragments = "stars_payment_fragments"
	TypeNftCrafted     = "nft_crafted"
	TypeAdReward       = "ad_reward_horseshoes"
)

// Transaction units. Fragment-count rows share the log with currency rows
// for wire compatibility; the unit column keeps reconciliation honest.
const (
	UnitHorseshoes = "horseshoes"
	UnitFragments  = "fragments"
)

type DailyBonusResult struct {
	Granted    bool  `json:"granted"`
	Amount     int64 `json:"amount"`
	NewBalance int64 `json:"newBalance"`
}
