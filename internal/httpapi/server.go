// Package httpapi exposes the credit ledger and generation workflow over JSON:
// the payment webhook, the authenticated user API and the basic-auth admin API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/InfographicAI/internal/auth"
	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/payments"
	"github.com/digkill/InfographicAI/internal/service"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Auth        *auth.Authenticator
	Verifier    *payments.Verifier
	Profiles    *service.ProfileService
	Ledger      *service.LedgerService
	Generations *service.GenerationService
	Purchases   *service.PurchaseService
	Checkout    *service.CheckoutService
	Packages    *service.PackageService
	Promos      *service.PromoService
}

type Server struct {
	addr            string
	adminUsername   string
	adminPassword   string
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	log             *slog.Logger
	deps            Deps
	router          *chi.Mux
}

type Config struct {
	Addr          string
	AdminUsername string
	AdminPassword string
	// WriteTimeout must cover a full generation.
	WriteTimeout time.Duration
	// ShutdownTimeout must cover a generation that was charged just before
	// shutdown, including its refund.
	ShutdownTimeout time.Duration
}

func NewServer(cfg Config, deps Deps, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = cfg.WriteTimeout
	}
	s := &Server{
		addr:            cfg.Addr,
		adminUsername:   cfg.AdminUsername,
		adminPassword:   cfg.AdminPassword,
		writeTimeout:    cfg.WriteTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log,
		deps:            deps,
		router:          r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/webhooks/dodo", func(r chi.Router) {
		r.Get("/", s.handleWebhookHealth)
		r.Post("/", s.handleDodoWebhook)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Get("/profile", s.handleGetProfile)
		api.Patch("/profile", s.handleUpdateProfile)
		api.Get("/credits", s.handleGetCredits)
		api.Get("/credits/transactions", s.handleListTransactions)
		api.Get("/packages", s.handleListPackages)
		api.Post("/checkout", s.handleCheckout)
		api.Get("/purchases", s.handleListPurchases)
		api.Post("/promo/redeem", s.handleRedeemPromo)
		api.Route("/generations", func(r chi.Router) {
			r.Get("/", s.handleListGenerations)
			r.Post("/", s.handleGenerate)
			r.Get("/{id}", s.handleGetGeneration)
			r.Get("/{id}/image", s.handleGenerationImage)
			r.Delete("/{id}", s.handleDeleteGeneration)
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware)
		admin.Route("/packages", func(r chi.Router) {
			r.Get("/", s.handleAdminListPackages)
			r.Post("/", s.handleAdminCreatePackage)
			r.Put("/{id}", s.handleAdminUpdatePackage)
			r.Delete("/{id}", s.handleAdminDeletePackage)
		})
		admin.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleAdminListPromos)
			r.Post("/", s.handleAdminCreatePromo)
			r.Put("/{id}", s.handleAdminUpdatePromo)
			r.Delete("/{id}", s.handleAdminDeletePromo)
		})
		admin.Post("/users/{id}/credits", s.handleAdminGrantCredits)
		admin.Get("/users/{id}/ledger/replay", s.handleAdminReplay)
		admin.Post("/purchases/{id}/reconcile", s.handleAdminReconcile)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is done. It then stops accepting
// connections and returns only after in-flight requests have finished or the
// shutdown timeout has passed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.writeTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http api listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("http api draining", "timeout", s.shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		s.log.Info("http api stopped")
		return nil
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authMiddleware resolves the bearer token and makes sure the caller has a
// profile and credit account before any handler runs.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Identify(auth.BearerToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if _, _, err := s.deps.Profiles.Ensure(r.Context(), identity); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.adminUsername || pass != s.adminPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="infographic-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) models.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses. Unknown errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var extErr *models.ExternalError
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthenticated"})
	case errors.Is(err, models.ErrInsufficientCredits):
		s.writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: models.ErrInsufficientCredits.Error(), Code: "insufficient_credits"})
	case errors.Is(err, models.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, models.ErrValidation):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "validation"})
	case errors.Is(err, models.ErrConflict):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, models.ErrUnconfigured):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: models.ErrUnconfigured.Error(), Code: "unconfigured"})
	case errors.As(err, &extErr):
		s.log.Warn("upstream failure", "path", r.URL.Path, "service", extErr.Service, "kind", extErr.Kind, "err", err)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: extErr.UserMessage(), Code: string(extErr.Kind)})
	case errors.Is(err, service.ErrNoImage):
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: service.ErrNoImage.Error(), Code: "no_image"})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "generation timed out, please try again", Code: "timeout"})
	default:
		s.log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "bad_request"})
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	if err != nil {
		return 0
	}
	return limit
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
