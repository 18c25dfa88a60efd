package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/service"
)

type profileResponse struct {
	Profile *models.Profile `json:"profile"`
	Credits *models.Balance `json:"credits"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, _, err := s.deps.Profiles.Ensure(r.Context(), identity(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.deps.Ledger.GetBalance(r.Context(), profile.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profileResponse{Profile: profile, Credits: balance})
}

type updateProfileRequest struct {
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	profile, err := s.deps.Profiles.Update(r.Context(), identity(r), service.UpdateProfileInput{
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	balance, err := s.deps.Ledger.GetBalance(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.deps.Ledger.ListTransactions(r.Context(), identity(r).UserID, queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transactions": nonNil(txns)})
}

type packageView struct {
	models.CreditPackage
	Price string `json:"price"`
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.deps.Packages.List(r.Context(), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]packageView, 0, len(pkgs))
	for _, pkg := range pkgs {
		views = append(views, packageView{CreditPackage: pkg, Price: pkg.Price().StringFixed(2)})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"packages": views})
}

type checkoutRequest struct {
	PackageID string `json:"package_id"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.PackageID == "" {
		s.writeError(w, r, models.Validationf("package_id is required"))
		return
	}
	session, err := s.deps.Checkout.CreateCheckout(r.Context(), identity(r), req.PackageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := s.deps.Purchases.List(r.Context(), identity(r).UserID, queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"purchases": nonNil(purchases)})
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	balance, err := s.deps.Promos.Redeem(r.Context(), identity(r).UserID, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	result, err := s.deps.Generations.Generate(r.Context(), identity(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	gens, err := s.deps.Generations.List(r.Context(), identity(r).UserID, queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generations": nonNil(gens)})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	gen, err := s.deps.Generations.Get(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gen)
}

// handleGenerationImage serves inline images directly and redirects to the
// artifact store otherwise.
func (s *Server) handleGenerationImage(w http.ResponseWriter, r *http.Request) {
	gen, err := s.deps.Generations.Get(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	link, err := s.deps.Generations.ImageLink(r.Context(), gen)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch {
	case link != "":
		http.Redirect(w, r, link, http.StatusFound)
	case len(gen.ImageData) > 0:
		mime := gen.ImageMime
		if mime == "" {
			mime = "image/png"
		}
		w.Header().Set("Content-Type", mime)
		w.Header().Set("Content-Length", strconv.Itoa(len(gen.ImageData)))
		w.Header().Set("Cache-Control", "private, max-age=86400")
		_, _ = w.Write(gen.ImageData)
	default:
		s.writeError(w, r, models.ErrNotFound)
	}
}

func (s *Server) handleDeleteGeneration(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Generations.Delete(r.Context(), identity(r).UserID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
