package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/service"
)

func (s *Server) handleAdminListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.deps.Packages.List(r.Context(), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(pkgs))
}

func (s *Server) handleAdminCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePackageInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	pkg, err := s.deps.Packages.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleAdminUpdatePackage(w http.ResponseWriter, r *http.Request) {
	var req service.UpdatePackageInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	pkg, err := s.deps.Packages.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleAdminDeletePackage(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Packages.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.deps.Promos.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(promos))
}

func (s *Server) handleAdminCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req service.PromoInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	promo, err := s.deps.Promos.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleAdminUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req service.PromoInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	promo, err := s.deps.Promos.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleAdminDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.deps.Promos.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	Amount      int                    `json:"amount"`
	Type        models.TransactionType `json:"type"`
	Reference   string                 `json:"reference"`
	Description string                 `json:"description"`
}

// handleAdminGrantCredits adds bonus or adjustment credits. A reference makes
// the grant idempotent: repeating it answers 409.
func (s *Server) handleAdminGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = models.TransactionBonus
	}
	if req.Type != models.TransactionBonus && req.Type != models.TransactionAdjustment {
		s.writeError(w, r, models.Validationf("type must be bonus or adjustment"))
		return
	}
	if req.Description == "" {
		req.Description = "Credits granted by support"
	}
	params := service.CreditParams{
		UserID:      chi.URLParam(r, "id"),
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
	}
	if req.Reference != "" {
		params.ReferenceID = req.Reference
		params.ReferenceType = models.ReferenceAdmin
	}
	balance, err := s.deps.Ledger.Credit(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("admin credit grant", "user_id", params.UserID, "amount", params.Amount, "type", params.Type, "reference", req.Reference)
	s.writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) handleAdminReplay(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Ledger.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	balance, err := s.deps.Purchases.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}
