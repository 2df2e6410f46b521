package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cardwise/rewards/ledger/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

// Repository is the single source of truth for users, cards, transactions and
// redemptions. It runs either fully in memory (tests, local dev) or against
// Postgres; the in-memory path serializes every mutation behind one mutex so
// balance updates stay linearizable per card, the Postgres path relies on
// guarded atomic updates inside a transaction.
type Repository struct {
	mu          sync.RWMutex
	users       map[int]*models.User
	cards       map[int]*models.Card
	txns        map[int]*models.Transaction
	redemptions map[int]*models.Redemption
	nextID      struct{ users, cards, txns, redemptions int }

	db *sql.DB
}

// NewRepository constructs an in-memory repository.
func NewRepository() *Repository {
	r := &Repository{
		users:       make(map[int]*models.User),
		cards:       make(map[int]*models.Card),
		txns:        make(map[int]*models.Transaction),
		redemptions: make(map[int]*models.Redemption),
	}
	r.nextID.users, r.nextID.cards, r.nextID.txns, r.nextID.redemptions = 1, 1, 1, 1
	return r
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping returns DB readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, u := range r.users {
			if u.Username == user.Username {
				return fmt.Errorf("username exists: %w", models.ErrConflict)
			}
		}
		user.ID = r.nextID.users
		r.nextID.users++
		r.users[user.ID] = user
		return nil
	}
	err := r.db.QueryRowContext(ctx, `
        INSERT INTO rewards.users(username, password, name, email, preferences)
        VALUES ($1,$2,$3,$4,$5) RETURNING id
    `, user.Username, user.Password, user.Name, user.Email, user.Preferences).Scan(&user.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("username exists: %w", models.ErrConflict)
	}
	return err
}

func (r *Repository) GetUser(ctx context.Context, id int) (*models.User, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		user, ok := r.users[id]
		if !ok {
			return nil, models.ErrNotFound
		}
		u := *user
		return &u, nil
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT id, username, password, name, email, preferences FROM rewards.users WHERE id=$1
    `, id)
	return scanUser(row)
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, u := range r.users {
			if u.Username == username {
				out := *u
				return &out, nil
			}
		}
		return nil, models.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT id, username, password, name, email, preferences FROM rewards.users WHERE username=$1
    `, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Name, &u.Email, &u.Preferences); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *Repository) CreateCard(ctx context.Context, card *models.Card) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		card.ID = r.nextID.cards
		r.nextID.cards++
		c := *card
		r.cards[card.ID] = &c
		return nil
	}
	return r.db.QueryRowContext(ctx, `
        INSERT INTO rewards.cards(user_id, bank_id, card_type, last_four_digits, expiry_date, points, points_expiry_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id
    `, card.UserID, card.BankID, card.CardType, card.LastFourDigits, card.ExpiryDate,
		card.Points, nullTime(card.PointsExpiryDate)).Scan(&card.ID)
}

func (r *Repository) GetCard(ctx context.Context, id int) (*models.Card, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		card, ok := r.cards[id]
		if !ok {
			return nil, models.ErrNotFound
		}
		c := *card
		return &c, nil
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT id, user_id, bank_id, card_type, last_four_digits, expiry_date, points, points_expiry_date
          FROM rewards.cards WHERE id=$1
    `, id)
	var c models.Card
	var exp sql.NullTime
	if err := row.Scan(&c.ID, &c.UserID, &c.BankID, &c.CardType, &c.LastFourDigits, &c.ExpiryDate, &c.Points, &exp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if exp.Valid {
		t := exp.Time
		c.PointsExpiryDate = &t
	}
	return &c, nil
}

// GetCards returns all cards owned by the user, in creation order.
func (r *Repository) GetCards(ctx context.Context, userID int) ([]*models.Card, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var cards []*models.Card
		for _, card := range r.cards {
			if card.UserID == userID {
				c := *card
				cards = append(cards, &c)
			}
		}
		sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
		return cards, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, user_id, bank_id, card_type, last_four_digits, expiry_date, points, points_expiry_date
          FROM rewards.cards WHERE user_id=$1 ORDER BY id
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Card
	for rows.Next() {
		var c models.Card
		var exp sql.NullTime
		if err := rows.Scan(&c.ID, &c.UserID, &c.BankID, &c.CardType, &c.LastFourDigits, &c.ExpiryDate, &c.Points, &exp); err != nil {
			return nil, err
		}
		if exp.Valid {
			t := exp.Time
			c.PointsExpiryDate = &t
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateCard persists a partial update of the card's descriptive fields. The
// point balance is never touched here; ApplyPointsDelta is the only sanctioned
// way to change it.
func (r *Repository) UpdateCard(ctx context.Context, id int, upd models.UpdateCard, pointsExpiry *time.Time, clearExpiry bool) (*models.Card, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		card, ok := r.cards[id]
		if !ok {
			return nil, models.ErrNotFound
		}
		applyCardUpdate(card, upd, pointsExpiry, clearExpiry)
		c := *card
		return &c, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var c models.Card
	var exp sql.NullTime
	err = tx.QueryRowContext(ctx, `
        SELECT id, user_id, bank_id, card_type, last_four_digits, expiry_date, points, points_expiry_date
          FROM rewards.cards WHERE id=$1 FOR UPDATE
    `, id).Scan(&c.ID, &c.UserID, &c.BankID, &c.CardType, &c.LastFourDigits, &c.ExpiryDate, &c.Points, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if exp.Valid {
		t := exp.Time
		c.PointsExpiryDate = &t
	}
	applyCardUpdate(&c, upd, pointsExpiry, clearExpiry)
	if _, err := tx.ExecContext(ctx, `
        UPDATE rewards.cards
           SET bank_id=$2, card_type=$3, last_four_digits=$4, expiry_date=$5, points_expiry_date=$6
         WHERE id=$1
    `, c.ID, c.BankID, c.CardType, c.LastFourDigits, c.ExpiryDate, nullTime(c.PointsExpiryDate)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyCardUpdate(card *models.Card, upd models.UpdateCard, pointsExpiry *time.Time, clearExpiry bool) {
	if upd.BankID != nil {
		card.BankID = *upd.BankID
	}
	if upd.CardType != nil {
		card.CardType = *upd.CardType
	}
	if upd.LastFourDigits != nil {
		card.LastFourDigits = *upd.LastFourDigits
	}
	if upd.ExpiryDate != nil {
		card.ExpiryDate = *upd.ExpiryDate
	}
	if clearExpiry {
		card.PointsExpiryDate = nil
	} else if pointsExpiry != nil {
		card.PointsExpiryDate = pointsExpiry
	}
}

// DeleteCard removes the card. Its transactions and redemptions survive as
// queryable history; there is deliberately no cascade.
func (r *Repository) DeleteCard(ctx context.Context, id int) (bool, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.cards[id]; !ok {
			return false, nil
		}
		delete(r.cards, id)
		return true, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM rewards.cards WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ApplyPointsDelta atomically adds delta to the card's balance, rejecting any
// delta that would drive it negative.
func (r *Repository) ApplyPointsDelta(ctx context.Context, cardID, delta int) (*models.Card, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.applyDeltaLocked(cardID, delta)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	card, err := applyDeltaTx(ctx, tx, cardID, delta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return card, nil
}

// applyDeltaLocked mutates the balance under the already-held write lock.
func (r *Repository) applyDeltaLocked(cardID, delta int) (*models.Card, error) {
	card, ok := r.cards[cardID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := card.Apply(delta); err != nil {
		return nil, err
	}
	c := *card
	return &c, nil
}

// applyDeltaTx runs the guarded balance update inside an open transaction.
// Zero rows with an existing card means the guard fired.
func applyDeltaTx(ctx context.Context, tx *sql.Tx, cardID, delta int) (*models.Card, error) {
	var c models.Card
	var exp sql.NullTime
	err := tx.QueryRowContext(ctx, `
        UPDATE rewards.cards
           SET points = points + $2
         WHERE id = $1 AND points + $2 >= 0
        RETURNING id, user_id, bank_id, card_type, last_four_digits, expiry_date, points, points_expiry_date
    `, cardID, delta).Scan(&c.ID, &c.UserID, &c.BankID, &c.CardType, &c.LastFourDigits, &c.ExpiryDate, &c.Points, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rewards.cards WHERE id=$1)`, cardID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInsufficientPoints
	}
	if err != nil {
		return nil, err
	}
	if exp.Valid {
		t := exp.Time
		c.PointsExpiryDate = &t
	}
	return &c, nil
}

// CreateTransaction inserts the transaction and applies its points delta to
// the card in one atomic unit. The balance update is never skipped and never
// eventually consistent with the row.
func (r *Repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, err := r.applyDeltaLocked(txn.CardID, txn.PointsEarned); err != nil {
			return err
		}
		txn.ID = r.nextID.txns
		r.nextID.txns++
		t := *txn
		r.txns[txn.ID] = &t
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `set local statement_timeout = '3s'`); err != nil {
		return err
	}
	if _, err := applyDeltaTx(ctx, tx, txn.CardID, txn.PointsEarned); err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `
        INSERT INTO rewards.transactions(card_id, user_id, date, description, amount, points_earned)
        VALUES ($1,$2,$3,$4,$5,$6) RETURNING id
    `, txn.CardID, txn.UserID, txn.Date, txn.Description, txn.Amount, txn.PointsEarned).Scan(&txn.ID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetTransactions returns the user's transactions sorted by date descending.
// A limit of zero means no limit.
func (r *Repository) GetTransactions(ctx context.Context, userID, limit int) ([]*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Transaction
		for _, txn := range r.txns {
			if txn.UserID == userID {
				t := *txn
				out = append(out, &t)
			}
		}
		sortTransactionsDesc(out)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	q := `
        SELECT id, card_id, user_id, date, description, amount, points_earned
          FROM rewards.transactions WHERE user_id=$1 ORDER BY date DESC, id DESC
    `
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// GetCardTransactions returns a card's transactions sorted by date descending.
func (r *Repository) GetCardTransactions(ctx context.Context, cardID int) ([]*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Transaction
		for _, txn := range r.txns {
			if txn.CardID == cardID {
				t := *txn
				out = append(out, &t)
			}
		}
		sortTransactionsDesc(out)
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, card_id, user_id, date, description, amount, points_earned
          FROM rewards.transactions WHERE card_id=$1 ORDER BY date DESC, id DESC
    `, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func sortTransactionsDesc(txns []*models.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.After(txns[j].Date)
		}
		return txns[i].ID > txns[j].ID
	})
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.CardID, &t.UserID, &t.Date, &t.Description, &t.Amount, &t.PointsEarned); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CreateRedemption records the redemption, its paired audit transaction and
// the balance decrement as one atomic unit: either all three land or none is
// visible to subsequent reads.
func (r *Repository) CreateRedemption(ctx context.Context, red *models.Redemption, audit *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, err := r.applyDeltaLocked(red.CardID, -red.PointsUsed); err != nil {
			return err
		}
		red.ID = r.nextID.redemptions
		r.nextID.redemptions++
		rd := *red
		r.redemptions[red.ID] = &rd
		audit.ID = r.nextID.txns
		r.nextID.txns++
		t := *audit
		r.txns[audit.ID] = &t
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `set local statement_timeout = '3s'`); err != nil {
		return err
	}
	if _, err := applyDeltaTx(ctx, tx, red.CardID, -red.PointsUsed); err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `
        INSERT INTO rewards.redemptions(user_id, card_id, option_id, points_used, value_obtained, status, date)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id
    `, red.UserID, red.CardID, red.OptionID, red.PointsUsed, red.ValueObtained, red.Status, red.Date).Scan(&red.ID)
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `
        INSERT INTO rewards.transactions(card_id, user_id, date, description, amount, points_earned)
        VALUES ($1,$2,$3,$4,$5,$6) RETURNING id
    `, audit.CardID, audit.UserID, audit.Date, audit.Description, audit.Amount, audit.PointsEarned).Scan(&audit.ID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetRedemptions returns the user's redemptions sorted by date descending.
func (r *Repository) GetRedemptions(ctx context.Context, userID int) ([]*models.Redemption, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Redemption
		for _, red := range r.redemptions {
			if red.UserID == userID {
				rd := *red
				out = append(out, &rd)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Date.Equal(out[j].Date) {
				return out[i].Date.After(out[j].Date)
			}
			return out[i].ID > out[j].ID
		})
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, user_id, card_id, option_id, points_used, value_obtained, status, date
          FROM rewards.redemptions WHERE user_id=$1 ORDER BY date DESC, id DESC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Redemption
	for rows.Next() {
		var rd models.Redemption
		if err := rows.Scan(&rd.ID, &rd.UserID, &rd.CardID, &rd.OptionID, &rd.PointsUsed, &rd.ValueObtained, &rd.Status, &rd.Date); err != nil {
			return nil, err
		}
		out = append(out, &rd)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
