package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/cardwise/rewards/internal/catalog"
	"github.com/cardwise/rewards/ledger/models"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)
	svc := NewService(NewRepository(), cat)
	svc.now = func() time.Time {
		return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func newTestUser(t *testing.T, svc *Service, username string) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), models.RegisterUser{
		Username: username,
		Password: "pass123",
		Name:     "Test User",
		Email:    username + "@example.com",
	})
	require.NoError(t, err)
	return user
}

func newTestCard(t *testing.T, svc *Service, userID, points int) *models.Card {
	t.Helper()
	card, err := svc.AddCard(context.Background(), userID, models.CreateCard{
		BankID:         "hdfc",
		CardType:       "Regalia",
		LastFourDigits: "4242",
		ExpiryDate:     "12/28",
		Points:         points,
	})
	require.NoError(t, err)
	return card
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user := newTestUser(t, svc, "alice")
	require.Equal(t, models.DefaultPreferences, user.Preferences)

	got, err := svc.Authenticate(ctx, models.Credentials{Username: "alice", Password: "pass123"})
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, models.Credentials{Username: "alice", Password: "wrong"})
	require.Error(t, err)

	_, err = svc.Register(ctx, models.RegisterUser{Username: "alice", Password: "x"})
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestRecordTransaction_AppliesDelta(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "bob")
	card := newTestCard(t, svc, user.ID, 200)

	_, err := svc.RecordTransaction(ctx, user.ID, models.CreateTransaction{
		CardID:       card.ID,
		Description:  "Grocery run",
		Amount:       2500,
		PointsEarned: 500,
	})
	require.NoError(t, err)

	got, err := svc.GetCard(ctx, user.ID, card.ID)
	require.NoError(t, err)
	require.Equal(t, 700, got.Points)

	_, err = svc.RecordTransaction(ctx, user.ID, models.CreateTransaction{
		CardID:       card.ID,
		Description:  "Points payment",
		PointsEarned: -200,
	})
	require.NoError(t, err)

	got, err = svc.GetCard(ctx, user.ID, card.ID)
	require.NoError(t, err)
	require.Equal(t, 500, got.Points)
}

func TestRecordTransaction_RejectsUnderflow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "carol")
	card := newTestCard(t, svc, user.ID, 200)

	_, err := svc.RecordTransaction(ctx, user.ID, models.CreateTransaction{
		CardID:       card.ID,
		Description:  "Too big a spend",
		PointsEarned: -300,
	})
	require.ErrorIs(t, err, models.ErrInsufficientPoints)

	// No effect: balance intact, no transaction row.
	got, err := svc.GetCard(ctx, user.ID, card.ID)
	require.NoError(t, err)
	require.Equal(t, 200, got.Points)

	txns, err := svc.ListTransactions(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Empty(t, txns)
}

func TestRecordTransaction_OwnershipEnforced(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := newTestUser(t, svc, "owner")
	other := newTestUser(t, svc, "other")
	card := newTestCard(t, svc, owner.ID, 100)

	_, err := svc.RecordTransaction(ctx, other.ID, models.CreateTransaction{
		CardID:       card.ID,
		PointsEarned: 10,
	})
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestRedeem_FullBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "dave")
	card := newTestCard(t, svc, user.ID, 1000)

	// pm1: rate 0.25, minPoints 500.
	red, err := svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID:     card.ID,
		OptionID:   "pm1",
		PointsUsed: 1000,
	})
	require.NoError(t, err)
	require.Equal(t, 250, red.ValueObtained)
	require.Equal(t, models.RedemptionStatusCompleted, red.Status)

	got, err := svc.GetCard(ctx, user.ID, card.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Points)

	// The audit transaction shows up inline with the history.
	txns, err := svc.ListCardTransactions(ctx, user.ID, card.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, -1000, txns[0].PointsEarned)
	require.Equal(t, "Redeemed: PhonePe Wallet", txns[0].Description)

	// A further 1-point attempt on the drained card fails.
	_, err = svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID:     card.ID,
		OptionID:   "pm1",
		PointsUsed: 1,
	})
	require.ErrorIs(t, err, models.ErrInsufficientPoints)
}

func TestRedeem_ValueRounding(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "erin")
	card := newTestCard(t, svc, user.ID, 5000)

	// gp1: rate 0.22, minPoints 500. 775 * 0.22 = 170.5 rounds to 171.
	red, err := svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID:     card.ID,
		OptionID:   "gp1",
		PointsUsed: 775,
	})
	require.NoError(t, err)
	require.Equal(t, 171, red.ValueObtained)
	require.Equal(t, 775, red.PointsUsed)

	got, err := svc.GetCard(ctx, user.ID, card.ID)
	require.NoError(t, err)
	require.Equal(t, 5000-775, got.Points)
}

func TestRedeem_ValidationOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "frank")
	card := newTestCard(t, svc, user.ID, 1000)

	_, err := svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID: card.ID, OptionID: "zz9", PointsUsed: 100,
	})
	require.ErrorIs(t, err, models.ErrNoOption)

	_, err = svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID: card.ID, OptionID: "cb1", PointsUsed: 0,
	})
	require.ErrorIs(t, err, models.ErrInvalidAmount)

	// Balance check precedes the minimum check.
	_, err = svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID: card.ID, OptionID: "fl1", PointsUsed: 6000,
	})
	require.ErrorIs(t, err, models.ErrInsufficientPoints)

	// cb1 requires 1000; 600 is affordable but below the floor.
	_, err = svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID: card.ID, OptionID: "cb1", PointsUsed: 600,
	})
	require.ErrorIs(t, err, models.ErrBelowMinimum)

	// az1 has no floor: a small redemption passes.
	red, err := svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID: card.ID, OptionID: "az1", PointsUsed: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 2, red.ValueObtained)

	// Rejected attempts left the balance untouched before the success.
	got, err := svc.GetCard(ctx, user.ID, card.ID)
	require.NoError(t, err)
	require.Equal(t, 990, got.Points)
}

func TestSummarize(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "grace")

	// Diners Club values at 0.33; unknown bank falls back to 0.25.
	_, err := svc.AddCard(ctx, user.ID, models.CreateCard{
		BankID: "hdfc", CardType: "Diners Club", LastFourDigits: "1111",
		ExpiryDate: "01/27", Points: 1000,
		PointsExpiryDate: "2026-03-11", // 10 days from the fixed test clock
	})
	require.NoError(t, err)
	_, err = svc.AddCard(ctx, user.ID, models.CreateCard{
		BankID: "unknown", CardType: "Mystery", LastFourDigits: "2222",
		ExpiryDate: "01/27", Points: 100,
	})
	require.NoError(t, err)

	sum, err := svc.Summarize(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 1100, sum.TotalPoints)
	require.Equal(t, 355.0, sum.PointsValue) // 1000*0.33 + 100*0.25
	require.Equal(t, 1000, sum.ExpiringPoints)
	require.Len(t, sum.Cards, 2)
}

func TestSummarize_EmptyUser(t *testing.T) {
	svc := newTestService(t)
	user := newTestUser(t, svc, "henry")

	sum, err := svc.Summarize(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, 0, sum.TotalPoints)
	require.Equal(t, 0.0, sum.PointsValue)
	require.Equal(t, 0, sum.ExpiringPoints)
	require.Empty(t, sum.Cards)
	require.Empty(t, sum.RecentTransactions)
}

func TestSummarize_CacheInvalidatedOnWrite(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "iris")
	card := newTestCard(t, svc, user.ID, 100)

	sum, err := svc.Summarize(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 100, sum.TotalPoints)

	_, err = svc.RecordTransaction(ctx, user.ID, models.CreateTransaction{
		CardID:       card.ID,
		Description:  "Fuel",
		PointsEarned: 50,
	})
	require.NoError(t, err)

	sum, err = svc.Summarize(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 150, sum.TotalPoints)
}

func TestDeleteCard_HistorySurvives(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "judy")
	card := newTestCard(t, svc, user.ID, 1000)

	_, err := svc.Redeem(ctx, user.ID, models.RedeemRequest{
		CardID: card.ID, OptionID: "pm1", PointsUsed: 500,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCard(ctx, user.ID, card.ID))

	_, err = svc.GetCard(ctx, user.ID, card.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	// Orphaned history stays queryable by user.
	txns, err := svc.ListTransactions(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	reds, err := svc.ListRedemptions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, reds, 1)
}

func TestUpdateCard_PartialAndExpiryClear(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user := newTestUser(t, svc, "kate")
	card, err := svc.AddCard(ctx, user.ID, models.CreateCard{
		BankID: "sbi", CardType: "Elite", LastFourDigits: "3333",
		ExpiryDate: "05/27", Points: 10, PointsExpiryDate: "2026-06-01",
	})
	require.NoError(t, err)
	require.NotNil(t, card.PointsExpiryDate)

	newType := "SimplyClick"
	clear := ""
	got, err := svc.UpdateCard(ctx, user.ID, card.ID, models.UpdateCard{
		CardType:         &newType,
		PointsExpiryDate: &clear,
	})
	require.NoError(t, err)
	require.Equal(t, "SimplyClick", got.CardType)
	require.Nil(t, got.PointsExpiryDate)
	require.Equal(t, "sbi", got.BankID)
	require.Equal(t, 10, got.Points)
}
