package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cardwise/rewards/internal/auth"
	"github.com/cardwise/rewards/internal/catalog"
	"github.com/cardwise/rewards/internal/expiry"
	"github.com/cardwise/rewards/ledger/models"
	lru "github.com/hashicorp/golang-lru"
)

const summaryCacheSize = 256

// Service implements the rewards ledger: card CRUD, the transaction and
// redemption workflows, and the dashboard aggregation. All balance mutations
// go through the repository's guarded delta, so a card's points can never go
// negative regardless of request interleaving.
type Service struct {
	repo    *Repository
	catalog *catalog.Catalog
	summary *lru.Cache

	now func() time.Time
}

func NewService(repo *Repository, cat *catalog.Catalog) *Service {
	cache, _ := lru.New(summaryCacheSize)
	return &Service{
		repo:    repo,
		catalog: cat,
		summary: cache,
		now:     time.Now,
	}
}

// Catalog exposes the conversion reference data.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// invalidateSummary drops the cached dashboard summary after any mutation of
// the user's cards or history.
func (s *Service) invalidateSummary(userID int) {
	s.summary.Remove(userID)
}

func (s *Service) Register(ctx context.Context, req models.RegisterUser) (*models.User, error) {
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:    req.Username,
		Password:    hash,
		Name:        req.Name,
		Email:       req.Email,
		Preferences: models.DefaultPreferences,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// Authenticate verifies credentials and returns the user. The same NotFound
// is returned for a missing user and a wrong password.
func (s *Service) Authenticate(ctx context.Context, creds models.Credentials) (*models.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		return nil, models.ErrNotFound
	}
	if !auth.CheckPasswordHash(creds.Password, user.Password) {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (s *Service) AddCard(ctx context.Context, userID int, req models.CreateCard) (*models.Card, error) {
	if req.Points < 0 {
		return nil, fmt.Errorf("points must not be negative")
	}
	card := &models.Card{
		UserID:         userID,
		BankID:         req.BankID,
		CardType:       req.CardType,
		LastFourDigits: req.LastFourDigits,
		ExpiryDate:     req.ExpiryDate,
		Points:         req.Points,
	}
	if req.PointsExpiryDate != "" {
		t, err := expiry.ParseDate(req.PointsExpiryDate)
		if err != nil {
			return nil, err
		}
		card.PointsExpiryDate = &t
	}
	if err := s.repo.CreateCard(ctx, card); err != nil {
		return nil, fmt.Errorf("creating card: %w", err)
	}
	s.invalidateSummary(userID)
	return card, nil
}

// getOwnedCard fetches a card and checks it belongs to the requesting user.
func (s *Service) getOwnedCard(ctx context.Context, userID, cardID int) (*models.Card, error) {
	card, err := s.repo.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, models.ErrForbidden
	}
	return card, nil
}

func (s *Service) GetCard(ctx context.Context, userID, cardID int) (*models.Card, error) {
	return s.getOwnedCard(ctx, userID, cardID)
}

func (s *Service) ListCards(ctx context.Context, userID int) ([]*models.Card, error) {
	cards, err := s.repo.GetCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

func (s *Service) UpdateCard(ctx context.Context, userID, cardID int, upd models.UpdateCard) (*models.Card, error) {
	if _, err := s.getOwnedCard(ctx, userID, cardID); err != nil {
		return nil, err
	}
	var pointsExpiry *time.Time
	clearExpiry := false
	if upd.PointsExpiryDate != nil {
		if *upd.PointsExpiryDate == "" {
			clearExpiry = true
		} else {
			t, err := expiry.ParseDate(*upd.PointsExpiryDate)
			if err != nil {
				return nil, err
			}
			pointsExpiry = &t
		}
	}
	card, err := s.repo.UpdateCard(ctx, cardID, upd, pointsExpiry, clearExpiry)
	if err != nil {
		return nil, fmt.Errorf("updating card: %w", err)
	}
	s.invalidateSummary(userID)
	return card, nil
}

func (s *Service) DeleteCard(ctx context.Context, userID, cardID int) error {
	if _, err := s.getOwnedCard(ctx, userID, cardID); err != nil {
		return err
	}
	if _, err := s.repo.DeleteCard(ctx, cardID); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	s.invalidateSummary(userID)
	return nil
}

// RecordTransaction creates an earn/spend event and applies its points delta
// to the card atomically. A negative delta that would underflow the balance is
// rejected with InsufficientPoints before anything is written.
func (s *Service) RecordTransaction(ctx context.Context, userID int, req models.CreateTransaction) (*models.Transaction, error) {
	if _, err := s.getOwnedCard(ctx, userID, req.CardID); err != nil {
		return nil, err
	}
	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	txn := &models.Transaction{
		CardID:       req.CardID,
		UserID:       userID,
		Date:         date,
		Description:  req.Description,
		Amount:       req.Amount,
		PointsEarned: req.PointsEarned,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	s.invalidateSummary(userID)
	return txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID, limit int) ([]*models.Transaction, error) {
	txns, err := s.repo.GetTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txns, nil
}

func (s *Service) ListCardTransactions(ctx context.Context, userID, cardID int) ([]*models.Transaction, error) {
	if _, err := s.getOwnedCard(ctx, userID, cardID); err != nil {
		return nil, err
	}
	txns, err := s.repo.GetCardTransactions(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("listing card transactions: %w", err)
	}
	return txns, nil
}

// Redeem validates a redemption against the card's balance and the catalog
// option, then records the redemption, its paired audit transaction and the
// balance decrement as one atomic unit. Validation failures short-circuit in
// order: missing option, non-positive amount, insufficient balance, below the
// option's minimum.
func (s *Service) Redeem(ctx context.Context, userID int, req models.RedeemRequest) (*models.Redemption, error) {
	card, err := s.getOwnedCard(ctx, userID, req.CardID)
	if err != nil {
		return nil, err
	}
	option, ok := s.catalog.OptionByID(req.OptionID)
	if !ok {
		return nil, models.ErrNoOption
	}
	if req.PointsUsed <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if req.PointsUsed > card.Points {
		return nil, models.ErrInsufficientPoints
	}
	if option.MinPoints > 0 && req.PointsUsed < option.MinPoints {
		return nil, models.ErrBelowMinimum
	}

	date := s.now()
	red := &models.Redemption{
		UserID:        userID,
		CardID:        req.CardID,
		OptionID:      option.ID,
		PointsUsed:    req.PointsUsed,
		ValueObtained: int(math.Round(float64(req.PointsUsed) * option.ConversionRate)),
		Status:        models.RedemptionStatusCompleted,
		Date:          date,
	}
	audit := &models.Transaction{
		CardID:       req.CardID,
		UserID:       userID,
		Date:         date,
		Description:  "Redeemed: " + option.Name,
		Amount:       0,
		PointsEarned: -req.PointsUsed,
	}
	// The balance guard re-checks at write time, so a concurrent racer loses
	// cleanly with InsufficientPoints instead of seeing a partial write.
	if err := s.repo.CreateRedemption(ctx, red, audit); err != nil {
		return nil, err
	}
	s.invalidateSummary(userID)
	return red, nil
}

func (s *Service) ListRedemptions(ctx context.Context, userID int) ([]*models.Redemption, error) {
	reds, err := s.repo.GetRedemptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	return reds, nil
}

// Summary is the dashboard aggregation across all of a user's cards.
type Summary struct {
	TotalPoints        int                   `json:"totalPoints"`
	PointsValue        float64               `json:"pointsValue"`
	ExpiringPoints     int                   `json:"expiringPoints"`
	Cards              []*models.Card        `json:"cards"`
	RecentTransactions []*models.Transaction `json:"recentTransactions"`
}

// Summarize computes total points, their estimated currency value and the
// points expiring within the default horizon. Each card is valued at its
// catalog rate; unknown (bank, card type) pairs fall back to the flat default.
// Zero cards yields a zeroed summary, not an error. Results are cached per
// user until the next mutation.
func (s *Service) Summarize(ctx context.Context, userID int) (*Summary, error) {
	if cached, ok := s.summary.Get(userID); ok {
		return cached.(*Summary), nil
	}

	cards, err := s.repo.GetCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	recent, err := s.repo.GetTransactions(ctx, userID, 5)
	if err != nil {
		return nil, fmt.Errorf("listing recent transactions: %w", err)
	}

	sum := &Summary{
		Cards:              cards,
		RecentTransactions: recent,
		ExpiringPoints:     expiry.SumExpiring(cards, s.now(), expiry.DefaultHorizonDays),
	}
	value := 0.0
	for _, card := range cards {
		sum.TotalPoints += card.Points
		value += float64(card.Points) * s.catalog.RateFor(card.BankID, card.CardType)
	}
	sum.PointsValue = math.Round(value*100) / 100

	s.summary.Add(userID, sum)
	return sum, nil
}
