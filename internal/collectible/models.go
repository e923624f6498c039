package collectible

import (
	"time"
)

// Fragment holds the fragment count for one (user, collectible type) pair.
// Rows only exist with a positive count; a consumption that reaches zero
// deletes the row.
type Fragment struct {
	UserID    string `gorm:"column:user_id;primaryKey;type:varchar(64)"`
	NftID     string `gorm:"column:nft_id;primaryKey;type:varchar(64)"`
	Fragments int    `gorm:"column:fragments;not null"`
}

func (Fragment) TableName() string {
	return "nft_fragments"
}

// CraftedNft records a one-time craft. The composite primary key makes a
// second craft of the same type a constraint violation.
type CraftedNft struct {
	UserID    string    `gorm:"column:user_id;primaryKey;type:varchar(64)"`
	NftID     string    `gorm:"column:nft_id;primaryKey;type:varchar(64)"`
	CraftedAt time.Time `gorm:"column:crafted_at;not null;default:now()"`
}

func (CraftedNft) TableName() string {
	return "user_crafted_nfts"
}
