package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cardwise/rewards/internal/auth"
	"github.com/cardwise/rewards/internal/catalog"
	"github.com/cardwise/rewards/ledger/models"
	"github.com/go-chi/chi/v5"
)

// API is the HTTP surface of the ledger service.
type API struct {
	svc    *Service
	secret []byte
}

func NewAPI(svc *Service, secret []byte) *API {
	return &API{
		svc:    svc,
		secret: secret,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", a.register)
		r.Post("/login", a.login)

		// Reference data needs no session.
		r.Get("/banks", a.getBanks)
		r.Get("/redemption-options", a.getRedemptionOptions)
		r.Get("/redemption-options/categories", a.getRedemptionCategories)

		r.Group(func(r chi.Router) {
			r.Use(a.requireUser)
			r.Route("/cards", func(r chi.Router) {
				r.Get("/", a.getCards)
				r.Post("/", a.createCard)
				r.Route("/{cardID}", func(r chi.Router) {
					r.Get("/", a.getCard)
					r.Patch("/", a.updateCard)
					r.Delete("/", a.deleteCard)
					r.Get("/transactions", a.getCardTransactions)
				})
			})
			r.Get("/transactions", a.getTransactions)
			r.Post("/transactions", a.createTransaction)
			r.Get("/redemptions", a.getRedemptions)
			r.Post("/redemptions", a.createRedemption)
			r.Get("/dashboard", a.getDashboard)
		})
	})
}

type ctxKey int

const userIDKey ctxKey = 0

// requireUser authenticates the bearer token and stores the user ID in the
// request context.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := auth.ParseToken(a.secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func requestUser(r *http.Request) int {
	id, _ := r.Context().Value(userIDKey).(int)
	return id
}

// writeError maps service errors to HTTP statuses. Validation errors carry the
// precondition that failed in their own message.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, models.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInsufficientPoints),
		errors.Is(err, models.ErrBelowMinimum),
		errors.Is(err, models.ErrNoOption),
		errors.Is(err, models.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterUser
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := a.svc.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			writeError(w, err)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	token, err := auth.GenerateToken(a.secret, user.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": user})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, err := a.svc.Authenticate(r.Context(), creds)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := auth.GenerateToken(a.secret, user.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (a *API) getBanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Catalog().Banks())
}

func (a *API) getRedemptionOptions(w http.ResponseWriter, r *http.Request) {
	options := a.svc.Catalog().OptionsByCategory(r.URL.Query().Get("category"))
	if options == nil {
		options = []catalog.Option{}
	}
	writeJSON(w, http.StatusOK, options)
}

func (a *API) getRedemptionCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Catalog().Categories())
}

func cardIDParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "cardID"))
}

func (a *API) getCards(w http.ResponseWriter, r *http.Request) {
	cards, err := a.svc.ListCards(r.Context(), requestUser(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if cards == nil {
		cards = []*models.Card{}
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) getCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := cardIDParam(r)
	if err != nil {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}
	card, err := a.svc.GetCard(r.Context(), requestUser(r), cardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) createCard(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCard
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	card, err := a.svc.AddCard(r.Context(), requestUser(r), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (a *API) updateCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := cardIDParam(r)
	if err != nil {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}
	var upd models.UpdateCard
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	card, err := a.svc.UpdateCard(r.Context(), requestUser(r), cardID, upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) deleteCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := cardIDParam(r)
	if err != nil {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}
	if err := a.svc.DeleteCard(r.Context(), requestUser(r), cardID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	txns, err := a.svc.ListTransactions(r.Context(), requestUser(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (a *API) getCardTransactions(w http.ResponseWriter, r *http.Request) {
	cardID, err := cardIDParam(r)
	if err != nil {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}
	txns, err := a.svc.ListCardTransactions(r.Context(), requestUser(r), cardID)
	if err != nil {
		writeError(w, err)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTransaction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	txn, err := a.svc.RecordTransaction(r.Context(), requestUser(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (a *API) getRedemptions(w http.ResponseWriter, r *http.Request) {
	reds, err := a.svc.ListRedemptions(r.Context(), requestUser(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if reds == nil {
		reds = []*models.Redemption{}
	}
	writeJSON(w, http.StatusOK, reds)
}

func (a *API) createRedemption(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	red, err := a.svc.Redeem(r.Context(), requestUser(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

func (a *API) getDashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.Summarize(r.Context(), requestUser(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
