package collectible

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientFragments = errors.New("insufficient fragments")
	ErrAlreadyCrafted        = errors.New("nft already crafted")
	ErrFragmentNotFound      = errors.New("fragment holding not found")
)

type Repository interface {
	IncrementFragment(ctx context.Context, tx *gorm.DB, userID string, nftID string) (int, error)
	GetFragmentForUpdate(ctx context.Context, tx *gorm.DB, userID string, nftID string) (*Fragment, error)
	SetFragmentCount(ctx context.Context, tx *gorm.DB, userID string, nftID string, count int) error
	CraftedExists(ctx context.Context, tx *gorm.DB, userID string, nftID string) (bool, error)
	CreateCrafted(ctx context.Context, tx *gorm.DB, crafted *CraftedNft) error
	ListFragments(ctx context.Context, userID string) ([]Fragment, error)
	ListCrafted(ctx context.Context, userID string) ([]CraftedNft, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// IncrementFragment upserts the holding with count+1 and returns the new
// count. The insert-or-increment is a single statement, so concurrent
// grants for the same pair cannot lose an update.
func (r *RepositoryImpl) IncrementFragment(ctx context.Context, tx *gorm.DB, userID string, nftID string) (int, error) {
	f := Fragment{UserID: userID, NftID: nftID, Fragments: 1}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "nft_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"fragments": gorm.Expr("nft_fragments.fragments + 1"),
			}),
		}).
		Create(&f).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment fragment: %w", err)
	}

	var out Fragment
	err = tx.WithContext(ctx).
		Where("user_id = ? AND nft_id = ?", userID, nftID).
		First(&out).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read fragment count: %w", err)
	}
	return out.Fragments, nil
}

func (r *RepositoryImpl) GetFragmentForUpdate(ctx context.Context, tx *gorm.DB, userID string, nftID string) (*Fragment, error) {
	var f Fragment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND nft_id = ?", userID, nftID).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFragmentNotFound
		}
		return nil, fmt.Errorf("failed to lock fragment: %w", err)
	}
	return &f, nil
}

// SetFragmentCount stores the new count, deleting the row when it reaches
// zero. Counts are never stored as zero or negative.
func (r *RepositoryImpl) SetFragmentCount(ctx context.Context, tx *gorm.DB, userID string, nftID string, count int) error {
	if count < 0 {
		return fmt.Errorf("fragment count must not be negative, got %d", count)
	}
	if count == 0 {
		err := tx.WithContext(ctx).
			Where("user_id = ? AND nft_id = ?", userID, nftID).
			Delete(&Fragment{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete fragment row: %w", err)
		}
		return nil
	}

	result := tx.WithContext(ctx).
		Model(&Fragment{}).
		Where("user_id = ? AND nft_id = ?", userID, nftID).
		Update("fragments", count)
	if result.Error != nil {
		return fmt.Errorf("failed to update fragment count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFragmentNotFound
	}
	return nil
}

func (r *RepositoryImpl) CraftedExists(ctx context.Context, tx *gorm.DB, userID string, nftID string) (bool, error) {
	var crafted CraftedNft
	err := tx.WithContext(ctx).
		Where("user_id = ? AND nft_id = ?", userID, nftID).
		First(&crafted).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check crafted nft: %w", err)
	}
	return true, nil
}

func (r *RepositoryImpl) CreateCrafted(ctx context.Context, tx *gorm.DB, crafted *CraftedNft) error {
	err := tx.WithContext(ctx).Create(crafted).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyCrafted
		}
		return fmt.Errorf("failed to create crafted nft: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListFragments(ctx context.Context, userID string) ([]Fragment, error) {
	var fragments []Fragment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("nft_id").
		Find(&fragments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list fragments: %w", err)
	}
	return fragments, nil
}

func (r *RepositoryImpl) ListCrafted(ctx context.Context, userID string) ([]CraftedNft, error) {
	var crafted []CraftedNft
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("crafted_at DESC").
		Find(&crafted).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list crafted nfts: %w", err)
	}
	return crafted, nil
}
