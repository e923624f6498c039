// Package api composes the HTTP surface: every request is bound,
// authenticated, validated and executed in that order, short-circuiting to
// an error response at the first failure.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"racing_service/internal/collectible"
	"racing_service/internal/ledger"
	"racing_service/internal/race"
)

type Verifier interface {
	Verify(envelope string) error
	Unverified() bool
}

type LedgerService interface {
	GetOrCreate(ctx context.Context, userID string) (*ledger.Account, error)
	ApplyDelta(ctx context.Context, userID string, delta int64, txType string) (int64, error)
	ClaimDailyBonus(ctx context.Context, userID string) (*ledger.DailyBonusResult, error)
	AdReward(ctx context.Context, userID string) (int64, error)
	AdRewardAmount() int64
	LogFragmentAward(ctx context.Context, userID string, count int) error
}

type CollectibleService interface {
	Grant(ctx context.Context, userID string, nftID string) (int, error)
	Craft(ctx context.Context, userID string, nftID string) (int, error)
	ListFragments(ctx context.Context, userID string) ([]collectible.Fragment, error)
	ListCrafted(ctx context.Context, userID string) ([]collectible.CraftedNft, error)
	CraftThreshold() int
}

type Handler struct {
	verifier     Verifier
	ledger       LedgerService
	collectibles CollectibleService
	sim          *race.Simulator
	horses       []race.Competitor
	rnd          race.Source
	dropRate     float64
	nftTypeCount int
}

func NewHandler(
	verifier Verifier,
	ledgerService LedgerService,
	collectibleService CollectibleService,
	sim *race.Simulator,
	horses []race.Competitor,
	rnd race.Source,
	dropRate float64,
	nftTypeCount int,
) *Handler {
	return &Handler{
		verifier:     verifier,
		ledger:       ledgerService,
		collectibles: collectibleService,
		sim:          sim,
		horses:       horses,
		rnd:          rnd,
		dropRate:     dropRate,
		nftTypeCount: nftTypeCount,
	}
}

// authEnvelope carries the signed launch parameters. The envelope arrives
// as authEnvelope; initData is accepted as a legacy alias from older
// clients.
type authEnvelope struct {
	AuthEnvelope string `json:"authEnvelope"`
	InitData     string `json:"initData"`
}

func (a authEnvelope) envelope() string {
	if a.AuthEnvelope != "" {
		return a.AuthEnvelope
	}
	return a.InitData
}

// authorize runs the signature check and writes the 401 response itself.
// Returns false when the request must not proceed.
func (h *Handler) authorize(c *gin.Context, envelope string) bool {
	if err := h.verifier.Verify(envelope); err != nil {
		log.WithError(err).WithField("path", c.FullPath()).Warn("envelope validation failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid initData"})
		return false
	}
	if h.verifier.Unverified() {
		log.WithField("path", c.FullPath()).Warn("accepted envelope WITHOUT signature validation (insecure mode)")
	}
	return true
}

func (h *Handler) internalError(c *gin.Context, action string, err error) {
	log.WithError(err).WithField("path", c.FullPath()).Error("storage fault")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal server error",
		"details": fmt.Sprintf("failed to %s", action),
	})
}

type freeBetRequest struct {
	UserID    string `json:"userId"`
	HorseID   int    `json:"horseId"`
	BetAmount int64  `json:"betAmount"`
	authEnvelope
}

func (h *Handler) FreeBet(c *gin.Context) {
	var req freeBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	if !h.authorize(c, req.envelope()) {
		return
	}

	selected, ok := race.FindCompetitor(h.horses, req.HorseID)
	if req.UserID == "" || !ok || req.BetAmount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId, horseId, or invalid betAmount"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.ledger.GetOrCreate(ctx, req.UserID); err != nil {
		h.internalError(c, "load account", err)
		return
	}

	updatedBalance, err := h.ledger.ApplyDelta(ctx, req.UserID, -req.BetAmount, ledger.TypeFreeBetPlaced)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient horseshoes"})
			return
		}
		h.internalError(c, "place bet", err)
		return
	}

	winner := h.sim.Draw(h.horses)
	won := winner.ID == req.HorseID

	var winnings int64
	fragmentAwarded := false
	var awardedNftID *string
	var fragmentUpdate gin.H

	if won {
		winnings = race.Payout(req.BetAmount, selected.Odds)
		updatedBalance, err = h.ledger.ApplyDelta(ctx, req.UserID, winnings, ledger.TypeFreeBetWin)
		if err != nil {
			h.internalError(c, "credit winnings", err)
			return
		}

		if h.rnd.Float64() < h.dropRate {
			nftID := fmt.Sprintf("nft_type_%d", h.rnd.Intn(h.nftTypeCount)+1)
			count, err := h.collectibles.Grant(ctx, req.UserID, nftID)
			if err != nil {
				h.internalError(c, "grant fragment", err)
				return
			}
			fragmentAwarded = true
			awardedNftID = &nftID
			fragmentUpdate = gin.H{"nftId": nftID, "count": count}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"winner":                  winner,
		"won":                     won,
		"winnings":                winnings,
		"updatedHorseshoeBalance": updatedBalance,
		"fragmentAwarded":         fragmentAwarded,
		"awardedNftFragmentId":    awardedNftID,
		"nftFragmentUpdate":       fragmentUpdate,
	})
}

type userRequest struct {
	UserID string `json:"userId"`
	authEnvelope
}

func (h *Handler) ClaimDailyBonus(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	if !h.authorize(c, req.envelope()) {
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}

	result, err := h.ledger.ClaimDailyBonus(c.Request.Context(), req.UserID)
	if err != nil {
		h.internalError(c, "claim daily bonus", err)
		return
	}

	if !result.Granted {
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"message":    "Daily bonus already claimed today.",
			"horseshoes": result.NewBalance,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"message":             fmt.Sprintf("You claimed %d horseshoes!", result.Amount),
		"bonusAmount":         result.Amount,
		"newHorseshoeBalance": result.NewBalance,
	})
}

func (h *Handler) AwardStarFragments(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	if !h.authorize(c, req.envelope()) {
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.ledger.GetOrCreate(ctx, req.UserID); err != nil {
		h.internalError(c, "load account", err)
		return
	}

	// 5 to 10 fragments, each of an independently random type.
	count := h.rnd.Intn(6) + 5
	details := make([]gin.H, 0, count)
	for i := 0; i < count; i++ {
		nftID := fmt.Sprintf("nft_type_%d", h.rnd.Intn(h.nftTypeCount)+1)
		newCount, err := h.collectibles.Grant(ctx, req.UserID, nftID)
		if err != nil {
			h.internalError(c, "grant fragments", err)
			return
		}
		details = append(details, gin.H{"nftId": nftID, "newCount": newCount})
	}

	if err := h.ledger.LogFragmentAward(ctx, req.UserID, count); err != nil {
		h.internalError(c, "log fragment award", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"message":               fmt.Sprintf("Successfully awarded %d NFT fragments.", count),
		"awardedFragmentsCount": count,
		"fragmentsDetails":      details,
	})
}

type craftNftRequest struct {
	UserID       string `json:"userId"`
	NftIDToCraft string `json:"nftIdToCraft"`
	authEnvelope
}

func (h *Handler) CraftNft(c *gin.Context) {
	var req craftNftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	if !h.authorize(c, req.envelope()) {
		return
	}
	if req.UserID == "" || req.NftIDToCraft == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId or nftIdToCraft"})
		return
	}

	remaining, err := h.collectibles.Craft(c.Request.Context(), req.UserID, req.NftIDToCraft)
	if err != nil {
		if errors.Is(err, collectible.ErrAlreadyCrafted) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": fmt.Sprintf("NFT %s already crafted.", req.NftIDToCraft),
			})
			return
		}
		if errors.Is(err, collectible.ErrInsufficientFragments) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": fmt.Sprintf("Insufficient fragments for %s. Need %d.", req.NftIDToCraft, h.collectibles.CraftThreshold()),
			})
			return
		}
		h.internalError(c, "craft nft", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"message":            fmt.Sprintf("Successfully crafted NFT: %s!", req.NftIDToCraft),
		"nftId":              req.NftIDToCraft,
		"newFragmentBalance": remaining,
	})
}

func (h *Handler) AwardAdReward(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	if !h.authorize(c, req.envelope()) {
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}

	newBalance, err := h.ledger.AdReward(c.Request.Context(), req.UserID)
	if err != nil {
		h.internalError(c, "award ad reward", err)
		return
	}

	amount := h.ledger.AdRewardAmount()
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"message":             fmt.Sprintf("Successfully awarded %d horseshoes for watching an ad!", amount),
		"awardedAmount":       amount,
		"newHorseshoeBalance": newBalance,
	})
}

// GetUserData is the read-only aggregate. Deliberately unauthenticated:
// mutating actions require a signed envelope, the aggregate read does not.
func (h *Handler) GetUserData(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId query parameter"})
		return
	}

	ctx := c.Request.Context()
	account, err := h.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		h.internalError(c, "load account", err)
		return
	}

	fragments, err := h.collectibles.ListFragments(ctx, userID)
	if err != nil {
		h.internalError(c, "list fragments", err)
		return
	}

	crafted, err := h.collectibles.ListCrafted(ctx, userID)
	if err != nil {
		h.internalError(c, "list crafted nfts", err)
		return
	}

	totalFragments := 0
	fragmentList := make([]gin.H, 0, len(fragments))
	for _, f := range fragments {
		totalFragments += f.Fragments
		fragmentList = append(fragmentList, gin.H{"nft_id": f.NftID, "count": f.Fragments})
	}

	craftedList := make([]gin.H, 0, len(crafted))
	for _, cn := range crafted {
		craftedList = append(craftedList, gin.H{"nft_id": cn.NftID, "crafted_at": cn.CraftedAt})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"userId":            account.ID,
		"horseshoes":        account.Horseshoes,
		"lastDailyBonus":    account.LastDailyBonus,
		"fragments":         fragmentList,
		"totalNftFragments": totalFragments,
		"craftedNfts":       craftedList,
	})
}

func (h *Handler) Welcome(c *gin.Context) {
	c.String(http.StatusOK, "Welcome to Large Acres API!")
}
