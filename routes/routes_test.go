package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gainable/config"
	"gainable/models"
	"gainable/providers"
	"gainable/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type nopMailer struct{ sent int }

func (m *nopMailer) Send(context.Context, providers.Email) (string, error) {
	m.sent++
	return "msg", nil
}

// stubBilling answers every lookup with the same subscription.
type stubBilling struct {
	sub *providers.BillingSubscription
}

func (b *stubBilling) GetSubscription(context.Context, string) (*providers.BillingSubscription, error) {
	return b.sub, nil
}

func (b *stubBilling) CancelAtPeriodEnd(context.Context, string) (*providers.BillingSubscription, error) {
	s := *b.sub
	s.CancelAtPeriodEnd = true
	return &s, nil
}

func (b *stubBilling) ListInvoices(context.Context, string) ([]providers.Invoice, error) {
	return nil, nil
}

func (b *stubBilling) CreateCheckoutSession(context.Context, providers.CheckoutRequest) (string, error) {
	return "https://checkout.test/session", nil
}

func (b *stubBilling) ParseWebhook([]byte, string) (*providers.BillingEvent, error) {
	return nil, errors.New("bad signature")
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	deps    *Deps
	mailer  *nopMailer
	billing *stubBilling
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		Env:             "test",
		PublicBaseURL:   "https://www.gainable.test",
		JWTSecret:       "test-secret",
		TokenDuration:   time.Hour,
		AdminEmail:      "admin@gainable.test",
		ReservedAccount: "redaction@gainable.test",
		MaxUploadB:      1 << 20,
	}
	log := zap.NewNop()
	m := services.NewMetrics(prometheus.NewRegistry())
	mailer := &nopMailer{}
	billing := &stubBilling{}

	d := &Deps{
		Config:        cfg,
		Logger:        log,
		Auth:          services.NewAuthService(cfg, db, log),
		Experts:       services.NewExpertService(cfg, db, log, m),
		Leads:         services.NewLeadService(cfg, db, mailer, log, m),
		Subscriptions: services.NewSubscriptionService(cfg, db, billing, log, m),
		Articles:      services.NewArticleService(cfg, config.DefaultArticlePolicy(), db, nil, log, m),
		Admin:         services.NewAdminService(cfg, db, nil, log),
		Maintenance:   services.NewMaintenanceRunner(db, log, m, 1, time.Millisecond),
	}
	router := gin.New()
	Register(router, d)
	return &testServer{router: router, db: db, deps: d, mailer: mailer, billing: billing}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) expert(t *testing.T, name string, lat, lng float64) *models.Expert {
	t.Helper()
	e := &models.Expert{
		Name:               name,
		Category:           models.CategoryInstaller,
		Email:              services.Slugify(name) + "@pro.test",
		City:               "Lyon",
		Country:            "France",
		Status:             models.ExpertActive,
		Slug:               services.Slugify(name),
		Latitude:           lat,
		Longitude:          lng,
		InterventionRadius: 50,
	}
	if err := s.db.Create(e).Error; err != nil {
		t.Fatalf("create expert: %v", err)
	}
	return e
}

func (s *testServer) token(t *testing.T, role models.Role, expertID uint) string {
	t.Helper()
	user := models.User{Email: string(role) + "@gainable.test", PasswordHash: "x", Role: role}
	if err := s.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	tok, err := s.deps.Auth.IssueToken(user, expertID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSearchExperts(t *testing.T) {
	s := newTestServer(t)
	s.expert(t, "Clim Lyon", 45.76, 4.83)
	s.expert(t, "Clim Paris", 48.85, 2.35)

	w := s.do(t, http.MethodGet, "/api/experts?lat=45.75&lng=4.85", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}

	w = s.do(t, http.MethodGet, "/api/experts?lat=abc&lng=4.85", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad lat: status = %d, want 400", w.Code)
	}
}

func TestExpertProfileNotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/experts/inconnu", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSubmitLead(t *testing.T) {
	s := newTestServer(t)
	lead := map[string]any{
		"name":        "Jeanne Martin",
		"email":       "jeanne@example.test",
		"phone":       "06 12 34 56 78",
		"postal_code": "69003",
		"city":        "Lyon",
		"message":     "Installation d'une climatisation gainable",
	}

	w := s.do(t, http.MethodPost, "/api/leads", "", lead)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if _, ok := decode(t, w)["id"]; !ok {
		t.Error("expected lead id in response")
	}
	if s.mailer.sent != 1 {
		t.Errorf("sent = %d, want 1", s.mailer.sent)
	}

	lead["website"] = "http://spam.test"
	w = s.do(t, http.MethodPost, "/api/leads", "", lead)
	if w.Code != http.StatusOK {
		t.Fatalf("honeypot: status = %d", w.Code)
	}
	body := decode(t, w)
	if _, ok := body["id"]; ok || body["success"] != true {
		t.Errorf("honeypot body = %v", body)
	}
	var n int64
	s.db.Model(&models.Lead{}).Count(&n)
	if n != 1 {
		t.Errorf("leads stored = %d, want 1", n)
	}

	delete(lead, "website")
	lead["email"] = "pas-un-email"
	w = s.do(t, http.MethodPost, "/api/leads", "", lead)
	if w.Code != http.StatusBadRequest || decode(t, w)["field"] != "email" {
		t.Errorf("invalid email: status = %d body %s", w.Code, w.Body)
	}
}

func TestAuthGuards(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(t, http.MethodGet, "/api/me/profile", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/me/profile", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}

	e := s.expert(t, "Clim Lyon", 45.76, 4.83)
	tok := s.token(t, models.RoleExpert, e.ID)
	if w := s.do(t, http.MethodGet, "/api/admin/experts", tok, nil); w.Code != http.StatusForbidden {
		t.Errorf("expert on admin: status = %d, want 403", w.Code)
	}
}

func TestCancelLockedReturnsUnlockDate(t *testing.T) {
	s := newTestServer(t)
	e := s.expert(t, "Clim Lyon", 45.76, 4.83)
	created := time.Now().UTC().AddDate(0, -2, 0)
	s.billing.sub = &providers.BillingSubscription{ID: "sub_1", Status: "active", Created: created}
	if err := s.db.Create(&models.Subscription{ExpertID: e.ID, StripeSubscriptionID: "sub_1", Status: "active"}).Error; err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	w := s.do(t, http.MethodPost, "/api/me/billing/cancel", s.token(t, models.RoleExpert, e.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	body := decode(t, w)
	unlock, err := time.Parse(time.RFC3339, body["unlock_date"].(string))
	if err != nil {
		t.Fatalf("unlock_date: %v", err)
	}
	if want := services.CancellationWindowStart(created); !unlock.Equal(want.Truncate(time.Second)) {
		t.Errorf("unlock_date = %v, want %v", unlock, want)
	}
	if !strings.Contains(body["error"].(string), "possible à partir du") {
		t.Errorf("error = %q", body["error"])
	}
}

func TestWebhookBadSignature(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=nope")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAdminExportLeads(t *testing.T) {
	s := newTestServer(t)
	if err := s.db.Create(&models.Lead{Name: "Jeanne", Email: "jeanne@example.test", City: "Lyon"}).Error; err != nil {
		t.Fatalf("create lead: %v", err)
	}
	tok := s.token(t, models.RoleAdmin, 0)

	w := s.do(t, http.MethodGet, "/api/admin/leads/export", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".xlsx") {
		t.Errorf("Content-Disposition = %q", w.Header().Get("Content-Disposition"))
	}
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Leads")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want header + 1", len(rows))
	}

	if w := s.do(t, http.MethodGet, "/api/admin/leads?since=hier", tok, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", w.Code)
	}
}

func TestAdminMaintenanceUnknownJob(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/admin/maintenance/nope", s.token(t, models.RoleAdmin, 0), nil)
	if w.Code == http.StatusOK {
		t.Errorf("unknown job accepted: %s", w.Body)
	}
}
