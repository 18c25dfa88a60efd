package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/digkill/InfographicAI/internal/models"
	"github.com/digkill/InfographicAI/internal/repository"
)

func paymentEvent(txID, userID, credits string) models.PaymentEvent {
	return models.PaymentEvent{
		Type:          models.EventPaymentSucceeded,
		TransactionID: txID,
		Currency:      "USD",
		AmountMinor:   499,
		Metadata:      map[string]string{"user_id": userID, "credits": credits, "package_id": "pkg_small"},
	}
}

func newPurchaseService(e *env) *PurchaseService {
	return NewPurchaseService(repository.NewPurchaseRepository(e.db), e.ledger, e.notifier, "dodo", testLogger())
}

func TestHandlePaymentEventCreditsOnce(t *testing.T) {
	e := newEnv(t, 50, nil)
	e.signUp(t, "user-1")
	svc := newPurchaseService(e)
	ctx := context.Background()

	outcome, err := svc.HandlePaymentEvent(ctx, paymentEvent("tx_1", "user-1", "5"))
	if err != nil || outcome != OutcomeCredited {
		t.Fatalf("first delivery = %s, %v", outcome, err)
	}
	outcome, err = svc.HandlePaymentEvent(ctx, paymentEvent("tx_1", "user-1", "5"))
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("redelivery = %s, %v", outcome, err)
	}

	b, err := e.ledger.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Balance != 55 || b.LifetimeCredits != 55 {
		t.Errorf("balance = %+v, want 55/55", b)
	}

	purchases, err := svc.List(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchases))
	}
	p := purchases[0]
	if p.CreditsPurchased != 5 || p.AmountPaid.String() != "4.99" || p.Status != models.PaymentCompleted || p.Provider != "dodo" {
		t.Errorf("purchase = %+v", p)
	}
	e.assertConsistent(t, "user-1")
}

func TestHandlePaymentEventConcurrentDeliveries(t *testing.T) {
	e := newEnv(t, 50, nil)
	e.signUp(t, "user-1")
	svc := newPurchaseService(e)
	ctx := context.Background()

	const deliveries = 8
	outcomes := make(chan Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.HandlePaymentEvent(ctx, paymentEvent("tx_1", "user-1", "5"))
			if err != nil {
				t.Errorf("delivery: %v", err)
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	if counts[OutcomeCredited] != 1 || counts[OutcomeDuplicate] != deliveries-1 {
		t.Errorf("outcomes = %v, want 1 credited and %d duplicate", counts, deliveries-1)
	}
	if got := e.balance(t, "user-1"); got != 55 {
		t.Errorf("balance = %d, want 55", got)
	}
	purchases, err := svc.List(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(purchases) != 1 {
		t.Errorf("purchases = %d, want 1", len(purchases))
	}
	purchaseRecords := 0
	for _, typ := range txnTypes(t, e, "user-1") {
		if typ == models.TransactionPurchase {
			purchaseRecords++
		}
	}
	if purchaseRecords != 1 {
		t.Errorf("purchase records = %d, want 1", purchaseRecords)
	}
	e.assertConsistent(t, "user-1")
}

func TestHandlePaymentEventIgnoresAndRejects(t *testing.T) {
	e := newEnv(t, 0, nil)
	e.signUp(t, "user-1")
	svc := newPurchaseService(e)
	ctx := context.Background()

	refunded := paymentEvent("tx_2", "user-1", "5")
	refunded.Type = "refund.succeeded"
	if outcome, err := svc.HandlePaymentEvent(ctx, refunded); err != nil || outcome != OutcomeIgnored {
		t.Errorf("other event = %s, %v", outcome, err)
	}

	for name, evt := range map[string]models.PaymentEvent{
		"no transaction": paymentEvent("", "user-1", "5"),
		"no user":        paymentEvent("tx_3", "", "5"),
		"no credits":     paymentEvent("tx_4", "user-1", ""),
		"bad credits":    paymentEvent("tx_5", "user-1", "lots"),
		"zero credits":   paymentEvent("tx_6", "user-1", "0"),
	} {
		outcome, err := svc.HandlePaymentEvent(ctx, evt)
		if outcome != OutcomeInvalid || !errors.Is(err, models.ErrValidation) {
			t.Errorf("%s: outcome = %s, err = %v", name, outcome, err)
		}
	}

	purchases, _ := svc.List(ctx, "user-1", 0)
	if len(purchases) != 0 {
		t.Errorf("purchases recorded for rejected events: %d", len(purchases))
	}
}

func TestHandlePaymentEventCreditFailureNeedsReconciliation(t *testing.T) {
	e := newEnv(t, 0, nil)
	svc := newPurchaseService(e)
	ctx := context.Background()

	// the buyer has no credit account yet
	outcome, err := svc.HandlePaymentEvent(ctx, paymentEvent("tx_9", "user-9", "20"))
	if outcome != OutcomeReconcile || !errors.Is(err, models.ErrReconciliationRequired) {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
	if len(e.notifier.titles) != 1 {
		t.Fatalf("alerts = %v, want 1", e.notifier.titles)
	}

	// redelivery does not credit again; the purchase waits for reconcile
	outcome, err = svc.HandlePaymentEvent(ctx, paymentEvent("tx_9", "user-9", "20"))
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("redelivery = %s, %v", outcome, err)
	}

	e.signUp(t, "user-9")
	purchases, err := svc.List(ctx, "user-9", 0)
	if err != nil || len(purchases) != 1 {
		t.Fatalf("purchases = %v, %v", purchases, err)
	}
	balance, err := svc.Reconcile(ctx, purchases[0].ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if balance != 20 {
		t.Errorf("balance = %d, want 20", balance)
	}
	if _, err := svc.Reconcile(ctx, purchases[0].ID); !errors.Is(err, models.ErrConflict) {
		t.Errorf("second reconcile err = %v, want ErrConflict", err)
	}
	if _, err := svc.Reconcile(ctx, "pur_missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown purchase err = %v", err)
	}
}

func TestParseCredits(t *testing.T) {
	cases := map[string]int{"50": 50, " 7 ": 7, "12.9": 12, "": 0, "abc": 0, "NaN": 0}
	for in, want := range cases {
		if got := parseCredits(in); got != want {
			t.Errorf("parseCredits(%q) = %d, want %d", in, got, want)
		}
	}
}

type fakeCheckoutProvider struct {
	req models.CheckoutRequest
	err error
}

func (p *fakeCheckoutProvider) CreateCheckoutSession(_ context.Context, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	p.req = req
	if p.err != nil {
		return nil, p.err
	}
	return &models.CheckoutSession{URL: "https://checkout.example.com/s/1", SessionID: "cks_1"}, nil
}

func newPackageService(e *env, defaults CatalogDefaults) *PackageService {
	return NewPackageService(repository.NewPackageRepository(e.db), defaults, testLogger())
}

func TestCreateCheckout(t *testing.T) {
	e := newEnv(t, 0, nil)
	packages := newPackageService(e, CatalogDefaults{Currency: "USD"})
	ctx := context.Background()

	sellable, err := packages.Create(ctx, CreatePackageInput{Name: "Pro", Credits: 100, PriceMinorUnits: 999, ProviderProductID: "pdt_pro"})
	if err != nil {
		t.Fatalf("Create package: %v", err)
	}
	unpriced, err := packages.Create(ctx, CreatePackageInput{Name: "Draft", Credits: 10, PriceMinorUnits: 100})
	if err != nil {
		t.Fatalf("Create package: %v", err)
	}
	inactive := false
	retired, err := packages.Create(ctx, CreatePackageInput{Name: "Old", Credits: 10, PriceMinorUnits: 100, ProviderProductID: "pdt_old", IsActive: &inactive})
	if err != nil {
		t.Fatalf("Create package: %v", err)
	}

	provider := &fakeCheckoutProvider{}
	svc := NewCheckoutService(packages, provider, "US", testLogger())
	identity := models.Identity{UserID: "user-1", Email: "a@example.com"}

	session, err := svc.CreateCheckout(ctx, identity, sellable.ID)
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if session.URL == "" {
		t.Error("empty checkout url")
	}
	req := provider.req
	if req.ProductID != "pdt_pro" || req.BillingCountry != "US" || req.CustomerName != "a@example.com" {
		t.Errorf("request = %+v", req)
	}
	if req.Metadata["user_id"] != "user-1" || req.Metadata["credits"] != "100" || req.Metadata["package_id"] != sellable.ID || req.Metadata["source"] != CheckoutSource {
		t.Errorf("metadata = %v", req.Metadata)
	}

	if _, err := svc.CreateCheckout(ctx, models.Identity{UserID: "user-1"}, sellable.ID); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("no email err = %v", err)
	}
	if _, err := svc.CreateCheckout(ctx, identity, "pkg_missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing package err = %v", err)
	}
	if _, err := svc.CreateCheckout(ctx, identity, retired.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("inactive package err = %v", err)
	}
	if _, err := svc.CreateCheckout(ctx, identity, unpriced.ID); !errors.Is(err, models.ErrUnconfigured) {
		t.Errorf("unconfigured package err = %v", err)
	}

	provider.err = &models.ExternalError{Service: "dodo", Kind: models.FailureTransient, Err: errors.New("502")}
	var extErr *models.ExternalError
	if _, err := svc.CreateCheckout(ctx, identity, sellable.ID); !errors.As(err, &extErr) {
		t.Errorf("provider failure err = %v", err)
	}
}

func TestEnsureCatalogDefaultPackage(t *testing.T) {
	e := newEnv(t, 0, nil)
	packages := newPackageService(e, CatalogDefaults{Currency: "USD", PriceMinorUnits: 999, Credits: 100, ProductID: "pdt_default"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := packages.EnsureCatalog(ctx); err != nil {
			t.Fatalf("EnsureCatalog: %v", err)
		}
	}
	list, err := packages.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Credits != 100 || list[0].ProviderProductID != "pdt_default" {
		t.Fatalf("packages = %+v", list)
	}
	if list[0].Price().String() != "9.99" {
		t.Errorf("price = %s", list[0].Price())
	}
}

func TestEnsureCatalogFromFile(t *testing.T) {
	e := newEnv(t, 0, nil)
	path := filepath.Join(t.TempDir(), "packages.yaml")
	catalog := `packages:
  - id: starter
    name: Starter
    credits: 50
    price_minor_units: 499
    is_active: true
    sort_order: 1
    provider_product_id: pdt_starter
  - id: pro
    name: Pro
    credits: 200
    price_minor_units: 1499
    currency: eur
    is_popular: true
    is_active: true
    sort_order: 2
`
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatal(err)
	}
	packages := newPackageService(e, CatalogDefaults{File: path, Currency: "USD"})
	ctx := context.Background()
	if err := packages.EnsureCatalog(ctx); err != nil {
		t.Fatalf("EnsureCatalog: %v", err)
	}
	// reloading updates in place
	if err := packages.EnsureCatalog(ctx); err != nil {
		t.Fatalf("EnsureCatalog again: %v", err)
	}

	list, err := packages.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "starter" || list[1].ID != "pro" {
		t.Fatalf("packages = %+v", list)
	}
	if list[0].Currency != "USD" || list[1].Currency != "EUR" || !list[1].IsPopular {
		t.Errorf("packages = %+v", list)
	}
}

func TestPackageValidationAndUpdate(t *testing.T) {
	e := newEnv(t, 0, nil)
	packages := newPackageService(e, CatalogDefaults{Currency: "USD"})
	ctx := context.Background()

	if _, err := packages.Create(ctx, CreatePackageInput{Name: "Free", Credits: 10}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("zero price err = %v", err)
	}
	pkg, err := packages.Create(ctx, CreatePackageInput{Name: "Basic", Credits: 10, PriceMinorUnits: 100})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	credits := 15
	updated, err := packages.Update(ctx, pkg.ID, UpdatePackageInput{Credits: &credits})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Credits != 15 || updated.Name != "Basic" {
		t.Errorf("updated = %+v", updated)
	}
	if err := packages.Delete(ctx, pkg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := packages.Delete(ctx, pkg.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestRedeemPromo(t *testing.T) {
	e := newEnv(t, 0, nil)
	e.signUp(t, "user-1")
	e.signUp(t, "user-2")
	promos := NewPromoService(e.db, repository.NewPromoRepository(e.db), e.ledger, testLogger())
	ctx := context.Background()

	if _, err := promos.Create(ctx, PromoInput{Code: "launch", Credits: 25, MaxUses: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := promos.Create(ctx, PromoInput{Code: "LAUNCH", Credits: 5, MaxUses: 1}); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("duplicate code err = %v", err)
	}

	balance, err := promos.Redeem(ctx, "user-1", "Launch")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if balance != 25 {
		t.Errorf("balance = %d, want 25", balance)
	}
	if _, err := promos.Redeem(ctx, "user-1", "LAUNCH"); !errors.Is(err, ErrPromoExhausted) {
		t.Errorf("exhausted err = %v", err)
	}
	if _, err := promos.Redeem(ctx, "user-2", "LAUNCH"); !errors.Is(err, models.ErrConflict) {
		t.Errorf("other user err = %v", err)
	}
	if _, err := promos.Redeem(ctx, "user-2", "NOPE"); !errors.Is(err, ErrPromoInvalid) {
		t.Errorf("unknown code err = %v", err)
	}
	if got := e.balance(t, "user-2"); got != 0 {
		t.Errorf("user-2 balance = %d", got)
	}
	e.assertConsistent(t, "user-1")
}

func TestRedeemPromoOncePerUser(t *testing.T) {
	e := newEnv(t, 0, nil)
	e.signUp(t, "user-1")
	promos := NewPromoService(e.db, repository.NewPromoRepository(e.db), e.ledger, testLogger())
	ctx := context.Background()

	if _, err := promos.Create(ctx, PromoInput{Code: "SPRING", Credits: 10, MaxUses: 100}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := promos.Redeem(ctx, "user-1", "spring"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if _, err := promos.Redeem(ctx, "user-1", "spring"); !errors.Is(err, ErrPromoAlreadyRedeemed) {
		t.Fatalf("second redeem err = %v", err)
	}
	if got := e.balance(t, "user-1"); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	list, err := promos.List(ctx)
	if err != nil || len(list) != 1 || list[0].Uses != 1 {
		t.Errorf("promos = %+v, %v", list, err)
	}
}
