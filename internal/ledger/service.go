package ledger

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// weeklyBonus is indexed by time.Weekday (Sunday = 0).
var weeklyBonus = [7]int64{100, 20, 30, 40, 50, 60, 80}

// BonusAmountFor returns the daily bonus for the weekday of t.
func BonusAmountFor(t time.Time) int64 {
	return weeklyBonus[int(t.Weekday())]
}

type Service struct {
	repo     Repository
	adReward int64
	now      func() time.Time
}

func NewService(repo Repository, adReward int64) *Service {
	return &Service{repo: repo, adReward: adReward, now: time.Now}
}

func (s *Service) GetOrCreate(ctx context.Context, userID string) (*Account, error) {
	return s.repo.GetOrCreate(ctx, userID)
}

func (s *Service) ApplyDelta(ctx context.Context, userID string, delta int64, txType string) (int64, error) {
	return s.repo.ApplyDelta(ctx, userID, delta, txType)
}

// ClaimDailyBonus credits the weekday bonus once per UTC calendar day.
func (s *Service) ClaimDailyBonus(ctx context.Context, userID string) (*DailyBonusResult, error) {
	if _, err := s.repo.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	utcNow := s.now().UTC()
	today := utcNow.Format("2006-01-02")
	amount := BonusAmountFor(utcNow)

	granted, newBalance, err := s.repo.GrantDailyBonus(ctx, userID, today, amount)
	if err != nil {
		return nil, err
	}
	if granted {
		log.WithFields(log.Fields{"user_id": userID, "amount": amount}).Info("daily bonus granted")
	}
	return &DailyBonusResult{Granted: granted, Amount: amount, NewBalance: newBalance}, nil
}

// AdReward credits the fixed ad-view reward unconditionally.
func (s *Service) AdReward(ctx context.Context, userID string) (int64, error) {
	if _, err := s.repo.GetOrCreate(ctx, userID); err != nil {
		return 0, err
	}
	newBalance, err := s.repo.ApplyDelta(ctx, userID, s.adReward, TypeAdReward)
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// AdRewardAmount is the fixed credit per ad view.
func (s *Service) AdRewardAmount() int64 {
	return s.adReward
}

// LogFragmentAward appends one aggregate fragment-unit row for a batch of
// fragment grants.
func (s *Service) LogFragmentAward(ctx context.Context, userID string, count int) error {
	if count <= 0 {
		return fmt.Errorf("fragment award count must be positive, got %d", count)
	}
	return s.repo.Append(ctx, &Transaction{
		UserID: userID,
		Type:   TypeStarsFragments,
		Unit:   UnitFragments,
		Amount: int64(count),
	})
}
