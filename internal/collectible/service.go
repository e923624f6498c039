package collectible

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"racing_service/internal/ledger"
)

type Service struct {
	db         *gorm.DB
	repo       Repository
	ledgerRepo ledger.Repository
	threshold  int
}

func NewService(db *gorm.DB, repo Repository, ledgerRepo ledger.Repository, threshold int) *Service {
	return &Service{
		db:         db,
		repo:       repo,
		ledgerRepo: ledgerRepo,
		threshold:  threshold,
	}
}

// CraftThreshold is the fragment count one craft consumes.
func (s *Service) CraftThreshold() int {
	return s.threshold
}

// Grant adds one fragment of the given type and returns the new count.
func (s *Service) Grant(ctx context.Context, userID string, nftID string) (int, error) {
	var newCount int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.repo.IncrementFragment(ctx, tx, userID, nftID)
		if err != nil {
			return err
		}
		newCount = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// Craft converts the threshold fragment count into a permanent collectible
// record. The uniqueness check, fragment debit, crafted row and log row
// commit or roll back together, so a failure partway never leaves
// fragments debited without the collectible recorded.
func (s *Service) Craft(ctx context.Context, userID string, nftID string) (int, error) {
	var remaining int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		crafted, err := s.repo.CraftedExists(ctx, tx, userID, nftID)
		if err != nil {
			return err
		}
		if crafted {
			return ErrAlreadyCrafted
		}

		fragment, err := s.repo.GetFragmentForUpdate(ctx, tx, userID, nftID)
		if err != nil {
			if errors.Is(err, ErrFragmentNotFound) {
				return ErrInsufficientFragments
			}
			return err
		}
		if fragment.Fragments < s.threshold {
			return ErrInsufficientFragments
		}

		newCount := fragment.Fragments - s.threshold
		if err := s.repo.SetFragmentCount(ctx, tx, userID, nftID, newCount); err != nil {
			return err
		}

		// The primary key backs up the CraftedExists check: a concurrent
		// craft that slipped past it fails here and rolls back the debit.
		err = s.repo.CreateCrafted(ctx, tx, &CraftedNft{
			UserID:    userID,
			NftID:     nftID,
			CraftedAt: time.Now(),
		})
		if err != nil {
			return err
		}

		err = s.ledgerRepo.AppendTx(ctx, tx, &ledger.Transaction{
			UserID: userID,
			Type:   ledger.TypeNftCrafted,
			Unit:   ledger.UnitFragments,
			Amount: -int64(s.threshold),
		})
		if err != nil {
			return err
		}

		remaining = newCount
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCrafted) || errors.Is(err, ErrInsufficientFragments) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to craft nft: %w", err)
	}

	log.WithFields(log.Fields{"user_id": userID, "nft_id": nftID}).Info("nft crafted")
	return remaining, nil
}

// AlreadyCrafted reports whether the user has crafted the given type.
func (s *Service) AlreadyCrafted(ctx context.Context, userID string, nftID string) (bool, error) {
	return s.repo.CraftedExists(ctx, s.db, userID, nftID)
}

func (s *Service) ListFragments(ctx context.Context, userID string) ([]Fragment, error) {
	return s.repo.ListFragments(ctx, userID)
}

func (s *Service) ListCrafted(ctx context.Context, userID string) ([]CraftedNft, error) {
	return s.repo.ListCrafted(ctx, userID)
}
