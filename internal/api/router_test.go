package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/models"
	"github.com/aethra/domus/internal/storage"
	"github.com/aethra/domus/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router  *gin.Engine
	engines *engine.Engines
	clock   *testutil.Clock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	clock := &testutil.Clock{T: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	testutil.Freeze(db, clock)
	settings := config.NewSettingsService(db)
	engines := engine.New(db, engine.Options{
		Settings: settings,
		Store:    storage.NewMemoryStore(),
		Now:      clock.Now,
	})

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode, MaxUploadBytes: 1 << 20},
		RateLimit: config.RateLimitConfig{LoginPerMinute: 1, LoginBurst: 3, PublicPerMinute: 600, PublicBurst: 50},
	}
	router := SetupRouter(Dependencies{
		Engines:  engines,
		Settings: settings,
		JWT:      auth.NewJWTService(config.AuthConfig{JWTSecret: "test-secret"}),
		Revoker:  auth.NewMemoryRevoker(),
		Logger:   zap.NewNop(),
		Config:   cfg,
		Version:  "test",
	})
	return &testServer{router: router, engines: engines, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) login(t *testing.T, portal, email, password string) (string, string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/"+portal+"/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tokens := decode(t, w)["tokens"].(map[string]interface{})
	return tokens["access_token"].(string), tokens["refresh_token"].(string)
}

func (s *testServer) staff(t *testing.T, email, role string) string {
	t.Helper()
	_, err := s.engines.Admins.Create(context.Background(), engine.SystemActor(), engine.AdminInput{
		Email: email, Password: "password123", FirstName: "Staff", LastName: role, Role: role,
	})
	require.NoError(t, err)
	token, _ := s.login(t, "admin", email, "password123")
	return token
}

func (s *testServer) tenant(t *testing.T, email string) (*models.Tenant, string) {
	t.Helper()
	tenant, err := s.engines.Tenants.Create(context.Background(), engine.SystemActor(), engine.TenantInput{
		Email: email, Password: "password123", FirstName: "Ten", LastName: "Ant",
	})
	require.NoError(t, err)
	token, _ := s.login(t, "tenant", email, "password123")
	return tenant, token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestSetup_OnlyOnce(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/setup/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["setup_required"])

	body := gin.H{"email": "owner@example.com", "password": "password123", "first_name": "Olga", "last_name": "Owner", "company_name": "Acme Homes"}
	w = s.do(t, http.MethodPost, "/setup", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotNil(t, decode(t, w)["tokens"])

	w = s.do(t, http.MethodGet, "/setup/status", "", nil)
	status := decode(t, w)
	assert.Equal(t, false, status["setup_required"])
	assert.Equal(t, "Acme Homes", status["company_name"])

	body["email"] = "second@example.com"
	w = s.do(t, http.MethodPost, "/setup", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuth_LoginMeLogout(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engines.Admins.Create(context.Background(), engine.SystemActor(), engine.AdminInput{
		Email: "admin@example.com", Password: "password123", FirstName: "Ada", LastName: "Min",
	})
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/auth/admin/login", "", gin.H{"email": "admin@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/auth/tenant/login", "", gin.H{"email": "admin@example.com", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "admins cannot use the tenant portal login")

	access, refresh := s.login(t, "admin", "admin@example.com", "password123")

	w = s.do(t, http.MethodGet, "/auth/me", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleAdmin, decode(t, w)["role"])

	w = s.do(t, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "refresh tokens are single use")

	w = s.do(t, http.MethodPost, "/auth/logout", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_RefreshIsSingleUseUnderConcurrency(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engines.Admins.Create(context.Background(), engine.SystemActor(), engine.AdminInput{
		Email: "admin@example.com", Password: "password123", FirstName: "Ada", LastName: "Min",
	})
	require.NoError(t, err)
	_, refresh := s.login(t, "admin", "admin@example.com", "password123")

	const attempts = 2
	codes := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.do(t, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": refresh}).Code
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, code := range codes {
		if code == http.StatusOK {
			ok++
		} else {
			assert.Equal(t, http.StatusUnauthorized, code)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestAuth_LoginIsRateLimited(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{"email": "nobody@example.com", "password": "whatever1"}

	for i := 0; i < 3; i++ {
		w := s.do(t, http.MethodPost, "/auth/admin/login", "", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(t, http.MethodPost, "/auth/admin/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAuth_ChangePassword(t *testing.T) {
	s := newTestServer(t)
	_, token := s.tenant(t, "tina@example.com")

	w := s.do(t, http.MethodPost, "/auth/change-password", token, gin.H{"current_password": "nope", "new_password": "newpassword1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/auth/change-password", token, gin.H{"current_password": "password123", "new_password": "newpassword1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.login(t, "tenant", "tina@example.com", "newpassword1")
}

func TestAdmin_RoleChecks(t *testing.T) {
	s := newTestServer(t)
	manager := s.staff(t, "manager@example.com", models.RoleManager)
	_, tenantToken := s.tenant(t, "tenant@example.com")

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/admin/buildings", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/admin/buildings", tenantToken, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/admin/buildings", manager, nil).Code)

	w := s.do(t, http.MethodPost, "/admin/buildings", manager, gin.H{"name": "Les Tilleuls"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/admin/buildings/"+id, manager, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/admin/settings", manager, nil).Code)

	staffToken := s.staff(t, "admin@example.com", models.RoleAdmin)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/portal/me", staffToken, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/admin/buildings/"+id, staffToken, nil).Code)
}

func TestApplicationApprovalFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.staff(t, "admin@example.com", models.RoleAdmin)

	w := s.do(t, http.MethodPost, "/admin/buildings", admin, gin.H{"name": "Residence du Parc", "city": "Lyon"})
	require.Equal(t, http.StatusCreated, w.Code)
	buildingID := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodPost, "/admin/apartments", admin, gin.H{"building_id": buildingID, "number": "A1", "type": "t2", "rent": 800})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	apartmentID := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodGet, "/public/buildings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	w = s.do(t, http.MethodPost, "/public/applications", "", gin.H{
		"first_name": "Nina", "last_name": "Roux", "email": "nina@example.com",
		"password": "applicant1", "desired_apartment_id": apartmentID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	applicationID := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodPost, "/public/applications", "", gin.H{
		"first_name": "Nina", "last_name": "Roux", "email": "nina@example.com", "password": "applicant1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	approve := gin.H{"start_date": "2026-03-01T00:00:00Z", "end_date": "2027-02-28T00:00:00Z", "monthly_rent": 800, "deposit": 1600}
	w = s.do(t, http.MethodPost, "/admin/applications/"+applicationID+"/approve", admin, approve)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/admin/applications/"+applicationID+"/approve", admin, approve)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/public/buildings/"+buildingID+"/vacancies", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["data"])

	token, _ := s.login(t, "tenant", "nina@example.com", "applicant1")
	w = s.do(t, http.MethodGet, "/portal/lease", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.LeaseActive, decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/portal/apartment", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	apartment := decode(t, w)["apartment"].(map[string]interface{})
	assert.Equal(t, apartmentID, apartment["id"])

	w = s.do(t, http.MethodGet, "/portal/loyalty", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, decode(t, w)["total_points"].(float64), 0.0)

	w = s.do(t, http.MethodGet, "/admin/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPortal_TenantsSeeOnlyTheirRecords(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice, aliceToken := s.tenant(t, "alice@example.com")
	_, bobToken := s.tenant(t, "bob@example.com")

	payment, err := s.engines.Payments.Create(ctx, engine.SystemActor(), engine.PaymentInput{
		TenantID: alice.ID, Amount: 90, Type: "fee", DueDate: s.clock.T.AddDate(0, 0, 5),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/portal/payments/"+payment.ID, aliceToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/portal/payments/"+payment.ID, bobToken, nil).Code)

	w := s.do(t, http.MethodGet, "/portal/payments", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["total"])

	w = s.do(t, http.MethodGet, "/portal/notifications", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"], "payment due soon")
}

func TestDocuments_UploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	admin := s.staff(t, "admin@example.com", models.RoleAdmin)
	alice, aliceToken := s.tenant(t, "alice@example.com")
	_, bobToken := s.tenant(t, "bob@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("tenant_id", alice.ID))
	require.NoError(t, mw.WriteField("category", "receipt"))
	require.NoError(t, mw.WriteField("visible_to_tenant", "true"))
	part, err := mw.CreateFormFile("file", "receipt-march.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("rent received"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodGet, "/portal/documents/"+id+"/download", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rent received", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "receipt-march.txt")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/portal/documents/"+id, bobToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/portal/documents/"+id, aliceToken, nil).Code)
}

func TestExports_Tenants(t *testing.T) {
	s := newTestServer(t)
	admin := s.staff(t, "admin@example.com", models.RoleAdmin)
	s.tenant(t, "alice@example.com")

	w := s.do(t, http.MethodGet, "/admin/exports/tenants.xlsx", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

func TestAdmin_ListClampsHugePage(t *testing.T) {
	s := newTestServer(t)
	manager := s.staff(t, "manager@example.com", models.RoleManager)

	w := s.do(t, http.MethodGet, "/admin/buildings?page=9223372036854775807&page_size=500", manager, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1000000, body["page"])
	assert.EqualValues(t, 100, body["page_size"])
}
