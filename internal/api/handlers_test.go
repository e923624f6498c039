package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racing_service/internal/auth"
	"racing_service/internal/collectible"
	"racing_service/internal/ledger"
	"racing_service/internal/race"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubVerifier struct {
	err        error
	unverified bool
	received   []string
}

func (s *stubVerifier) Verify(envelope string) error {
	s.received = append(s.received, envelope)
	return s.err
}

func (s *stubVerifier) Unverified() bool { return s.unverified }

type appliedDelta struct {
	userID string
	delta  int64
	txType string
}

type applyResult struct {
	balance int64
	err     error
}

type stubLedger struct {
	account      *ledger.Account
	applyResults []applyResult
	applyCalls   []appliedDelta
	bonus        *ledger.DailyBonusResult
	adBalance    int64
	adAmount     int64
	loggedAwards []int
}

func (s *stubLedger) GetOrCreate(ctx context.Context, userID string) (*ledger.Account, error) {
	if s.account != nil {
		return s.account, nil
	}
	return &ledger.Account{ID: userID, Horseshoes: 100, LastDailyBonus: ledger.EpochBonusDate}, nil
}

func (s *stubLedger) ApplyDelta(ctx context.Context, userID string, delta int64, txType string) (int64, error) {
	s.applyCalls = append(s.applyCalls, appliedDelta{userID: userID, delta: delta, txType: txType})
	if len(s.applyResults) == 0 {
		return 0, nil
	}
	r := s.applyResults[0]
	s.applyResults = s.applyResults[1:]
	return r.balance, r.err
}

func (s *stubLedger) ClaimDailyBonus(ctx context.Context, userID string) (*ledger.DailyBonusResult, error) {
	return s.bonus, nil
}

func (s *stubLedger) AdReward(ctx context.Context, userID string) (int64, error) {
	return s.adBalance, nil
}

func (s *stubLedger) AdRewardAmount() int64 { return s.adAmount }

func (s *stubLedger) LogFragmentAward(ctx context.Context, userID string, count int) error {
	s.loggedAwards = append(s.loggedAwards, count)
	return nil
}

type grantCall struct {
	userID string
	nftID  string
}

type stubCollectibles struct {
	grantCounts []int
	grantCalls  []grantCall
	craftResult int
	craftErr    error
	fragments   []collectible.Fragment
	crafted     []collectible.CraftedNft
}

func (s *stubCollectibles) Grant(ctx context.Context, userID string, nftID string) (int, error) {
	s.grantCalls = append(s.grantCalls, grantCall{userID: userID, nftID: nftID})
	if len(s.grantCounts) == 0 {
		return 1, nil
	}
	c := s.grantCounts[0]
	s.grantCounts = s.grantCounts[1:]
	return c, nil
}

func (s *stubCollectibles) Craft(ctx context.Context, userID string, nftID string) (int, error) {
	return s.craftResult, s.craftErr
}

func (s *stubCollectibles) ListFragments(ctx context.Context, userID string) ([]collectible.Fragment, error) {
	return s.fragments, nil
}

func (s *stubCollectibles) ListCrafted(ctx context.Context, userID string) ([]collectible.CraftedNft, error) {
	return s.crafted, nil
}

func (s *stubCollectibles) CraftThreshold() int { return 15 }

// scriptedSource replays fixed random values.
type scriptedSource struct {
	floats []float64
	ints   []int
}

func (s *scriptedSource) Float64() float64 {
	v := s.floats[0]
	if len(s.floats) > 1 {
		s.floats = s.floats[1:]
	}
	return v
}

func (s *scriptedSource) Intn(n int) int {
	v := s.ints[0]
	if len(s.ints) > 1 {
		s.ints = s.ints[1:]
	}
	return v % n
}

type fixture struct {
	verifier     *stubVerifier
	ledger       *stubLedger
	collectibles *stubCollectibles
	src          *scriptedSource
	router       *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		verifier:     &stubVerifier{},
		ledger:       &stubLedger{adAmount: 15},
		collectibles: &stubCollectibles{},
		src:          &scriptedSource{floats: []float64{0.99}, ints: []int{0}},
	}
	h := NewHandler(
		f.verifier,
		f.ledger,
		f.collectibles,
		race.NewSimulator(f.src),
		race.DefaultCatalog(),
		f.src,
		0.20,
		10,
	)
	f.router = h.Router()
	return f
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestFreeBetWin(t *testing.T) {
	f := newFixture(t)
	// Draw lands on the first competitor (odds 2.5), no fragment drop.
	f.src.floats = []float64{0, 0.99}
	f.ledger.applyResults = []applyResult{{balance: 80}, {balance: 130}}

	w := f.post(t, "/api/freeBet", gin.H{
		"userId":       "u1",
		"horseId":      1,
		"betAmount":    20,
		"authEnvelope": "signed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["won"])
	assert.Equal(t, float64(50), body["winnings"])
	assert.Equal(t, float64(130), body["updatedHorseshoeBalance"])
	assert.Equal(t, false, body["fragmentAwarded"])
	assert.Nil(t, body["awardedNftFragmentId"])

	require.Len(t, f.ledger.applyCalls, 2)
	assert.Equal(t, appliedDelta{"u1", -20, ledger.TypeFreeBetPlaced}, f.ledger.applyCalls[0])
	assert.Equal(t, appliedDelta{"u1", 50, ledger.TypeFreeBetWin}, f.ledger.applyCalls[1])
}

func TestFreeBetWinWithFragmentDrop(t *testing.T) {
	f := newFixture(t)
	// Winner draw, then a drop roll under 0.20, type roll picks nft_type_3.
	f.src.floats = []float64{0, 0.1}
	f.src.ints = []int{2}
	f.ledger.applyResults = []applyResult{{balance: 80}, {balance: 130}}
	f.collectibles.grantCounts = []int{4}

	w := f.post(t, "/api/freeBet", gin.H{
		"userId":       "u1",
		"horseId":      1,
		"betAmount":    20,
		"authEnvelope": "signed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["fragmentAwarded"])
	assert.Equal(t, "nft_type_3", body["awardedNftFragmentId"])
	update, ok := body["nftFragmentUpdate"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "nft_type_3", update["nftId"])
	assert.Equal(t, float64(4), update["count"])

	require.Len(t, f.collectibles.grantCalls, 1)
	assert.Equal(t, grantCall{"u1", "nft_type_3"}, f.collectibles.grantCalls[0])
}

func TestFreeBetLoss(t *testing.T) {
	f := newFixture(t)
	// Draw lands past the first competitor's weight.
	f.src.floats = []float64{0.99}
	f.ledger.applyResults = []applyResult{{balance: 80}}

	w := f.post(t, "/api/freeBet", gin.H{
		"userId":       "u1",
		"horseId":      1,
		"betAmount":    20,
		"authEnvelope": "signed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["won"])
	assert.Equal(t, float64(0), body["winnings"])
	assert.Equal(t, float64(80), body["updatedHorseshoeBalance"])
	require.Len(t, f.ledger.applyCalls, 1)
}

func TestFreeBetInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.ledger.applyResults = []applyResult{{err: ledger.ErrInsufficientFunds}}

	w := f.post(t, "/api/freeBet", gin.H{
		"userId":       "u1",
		"horseId":      1,
		"betAmount":    500,
		"authEnvelope": "signed",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Insufficient horseshoes", decodeBody(t, w)["error"])
}

func TestFreeBetValidation(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]gin.H{
		"missing userId": {"horseId": 1, "betAmount": 20, "authEnvelope": "signed"},
		"zero bet":       {"userId": "u1", "horseId": 1, "betAmount": 0, "authEnvelope": "signed"},
		"negative bet":   {"userId": "u1", "horseId": 1, "betAmount": -5, "authEnvelope": "signed"},
		"unknown horse":  {"userId": "u1", "horseId": 42, "betAmount": 20, "authEnvelope": "signed"},
	} {
		w := f.post(t, "/api/freeBet", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
	assert.Empty(t, f.ledger.applyCalls)
}

func TestFreeBetAuthFailure(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = auth.ErrSignatureMismatch

	w := f.post(t, "/api/freeBet", gin.H{
		"userId":       "u1",
		"horseId":      1,
		"betAmount":    20,
		"authEnvelope": "bad",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized: Invalid initData", decodeBody(t, w)["error"])
	assert.Empty(t, f.ledger.applyCalls)
}

func TestFreeBetMalformedJSON(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/freeBet", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON body", decodeBody(t, w)["error"])
}

func TestEnvelopeAliasAccepted(t *testing.T) {
	f := newFixture(t)
	f.ledger.bonus = &ledger.DailyBonusResult{Granted: true, Amount: 40, NewBalance: 140}

	w := f.post(t, "/api/claimDailyBonus", gin.H{"userId": "u1", "initData": "legacy"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.verifier.received, 1)
	assert.Equal(t, "legacy", f.verifier.received[0])
}

func TestClaimDailyBonus(t *testing.T) {
	f := newFixture(t)
	f.ledger.bonus = &ledger.DailyBonusResult{Granted: true, Amount: 40, NewBalance: 140}

	w := f.post(t, "/api/claimDailyBonus", gin.H{"userId": "u1", "authEnvelope": "signed"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "You claimed 40 horseshoes!", body["message"])
	assert.Equal(t, float64(40), body["bonusAmount"])
	assert.Equal(t, float64(140), body["newHorseshoeBalance"])
}

func TestClaimDailyBonusAlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	f.ledger.bonus = &ledger.DailyBonusResult{Granted: false, Amount: 40, NewBalance: 140}

	w := f.post(t, "/api/claimDailyBonus", gin.H{"userId": "u1", "authEnvelope": "signed"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Daily bonus already claimed today.", body["message"])
	assert.Equal(t, float64(140), body["horseshoes"])
}

func TestAwardStarFragments(t *testing.T) {
	f := newFixture(t)
	// Intn(6) = 2 -> 7 fragments, then seven type rolls.
	f.src.ints = []int{2, 0, 1, 2, 3, 4, 5, 6}
	f.collectibles.grantCounts = []int{1, 1, 1, 1, 1, 1, 1}

	w := f.post(t, "/api/awardStarFragments", gin.H{"userId": "u1", "authEnvelope": "signed"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(7), body["awardedFragmentsCount"])
	details, ok := body["fragmentsDetails"].([]interface{})
	require.True(t, ok)
	assert.Len(t, details, 7)

	require.Len(t, f.collectibles.grantCalls, 7)
	require.Equal(t, []int{7}, f.ledger.loggedAwards)
}

func TestCraftNftSuccess(t *testing.T) {
	f := newFixture(t)
	f.collectibles.craftResult = 3

	w := f.post(t, "/api/craftNft", gin.H{
		"userId":       "u1",
		"nftIdToCraft": "nft_type_2",
		"authEnvelope": "signed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "nft_type_2", body["nftId"])
	assert.Equal(t, float64(3), body["newFragmentBalance"])
}

func TestCraftNftAlreadyCrafted(t *testing.T) {
	f := newFixture(t)
	f.collectibles.craftErr = collectible.ErrAlreadyCrafted

	w := f.post(t, "/api/craftNft", gin.H{
		"userId":       "u1",
		"nftIdToCraft": "nft_type_2",
		"authEnvelope": "signed",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NFT nft_type_2 already crafted.", body["message"])
}

func TestCraftNftInsufficientFragments(t *testing.T) {
	f := newFixture(t)
	f.collectibles.craftErr = collectible.ErrInsufficientFragments

	w := f.post(t, "/api/craftNft", gin.H{
		"userId":       "u1",
		"nftIdToCraft": "nft_type_2",
		"authEnvelope": "signed",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Insufficient fragments for nft_type_2. Need 15.", body["message"])
}

func TestAwardAdReward(t *testing.T) {
	f := newFixture(t)
	f.ledger.adBalance = 115

	w := f.post(t, "/api/awardAdReward", gin.H{"userId": "u1", "authEnvelope": "signed"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(15), body["awardedAmount"])
	assert.Equal(t, float64(115), body["newHorseshoeBalance"])
}

func TestGetUserData(t *testing.T) {
	f := newFixture(t)
	f.ledger.account = &ledger.Account{ID: "u1", Horseshoes: 130, LastDailyBonus: "2025-06-04"}
	f.collectibles.fragments = []collectible.Fragment{
		{UserID: "u1", NftID: "nft_type_1", Fragments: 3},
		{UserID: "u1", NftID: "nft_type_2", Fragments: 5},
	}
	f.collectibles.crafted = []collectible.CraftedNft{
		{UserID: "u1", NftID: "nft_type_9"},
	}

	w := f.get("/api/getUserData?userId=u1")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "u1", body["userId"])
	assert.Equal(t, float64(130), body["horseshoes"])
	assert.Equal(t, "2025-06-04", body["lastDailyBonus"])
	assert.Equal(t, float64(8), body["totalNftFragments"])
	assert.Len(t, body["fragments"], 2)
	assert.Len(t, body["craftedNfts"], 1)
}

func TestGetUserDataMissingParam(t *testing.T) {
	f := newFixture(t)
	w := f.get("/api/getUserData")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing userId query parameter", decodeBody(t, w)["error"])
}

func TestGetUserDataRequiresNoAuth(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = auth.ErrSignatureMismatch // would fail any POST

	w := f.get("/api/getUserData?userId=u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.verifier.received)
}

func TestWelcome(t *testing.T) {
	f := newFixture(t)
	w := f.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to Large Acres API!", w.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	w := f.get("/api/unknown")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found or Method Not Allowed", decodeBody(t, w)["error"])
}
