package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinabook/internal/auth"
	"pinabook/internal/external"
	"pinabook/internal/messaging"
	"pinabook/internal/middleware"
	"pinabook/internal/models"
	"pinabook/internal/repository/memory"
	"pinabook/internal/service"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router *gin.Engine
	authn  *auth.JWTAuthenticator
	clock  *testClock
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	bus := messaging.NewLocalBus()
	services := service.NewServices(service.Dependencies{
		Repos:     memory.NewRepositories(),
		Publisher: bus,
		Objects:   external.NewMemoryObjectStore("https://img.test"),
		Now:       clock.Now,
	}, service.Options{})
	require.NoError(t, services.Projector.Subscribe(bus, "projector"))
	t.Cleanup(services.Close)

	authn := auth.NewJWTAuthenticator("test-secret", "")
	h := NewHandlers(services)

	r := gin.New()
	api := r.Group("/api", middleware.Authenticate(authn))
	{
		affiliateOnly := middleware.RequireRole(models.RoleAffiliate)
		customerOnly := middleware.RequireRole(models.RoleCustomer)

		api.POST("/affiliates", affiliateOnly, h.RegisterAffiliate)
		api.GET("/affiliates/me/counters", affiliateOnly, h.GetCounters)
		api.GET("/affiliates/me/audit", affiliateOnly, h.ListAudit)

		api.GET("/facilities", h.SearchFacilities)
		api.GET("/facilities/:id", h.GetFacility)
		api.POST("/facilities", affiliateOnly, h.CreateFacility)
		api.PATCH("/facilities/:id", affiliateOnly, h.UpdateFacility)

		api.POST("/bookings", customerOnly, h.CreateBooking)
		api.GET("/bookings/:id", h.GetBooking)
		api.PATCH("/bookings/:id/cancel", customerOnly, h.CancelBooking)
		api.PATCH("/bookings/:id/confirm", affiliateOnly, h.ConfirmBooking)
		api.PATCH("/bookings/:id/reject", affiliateOnly, h.RejectBooking)

		api.POST("/admin/subscriptions/evaluate", middleware.RequireRole(models.RoleAdmin), h.EvaluateSubscriptions)
	}

	return &testEnv{router: r, authn: authn, clock: clock}
}

func (e *testEnv) token(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	tok, err := e.authn.Issue(auth.Identity{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func facilityDraft(name string) models.FacilityDraft {
	price := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	return models.FacilityDraft{
		Name:             name,
		Description:      "Private pool with garden",
		Amenities:        []string{"pool", "wifi"},
		DayTour:          &models.TourPriceInput{StartTime: "08:00", Price: price(500)},
		NightTour:        &models.TourPriceInput{StartTime: "19:00", Price: price(800)},
		ChildEntranceFee: price(50),
		AdultEntranceFee: price(100),
		Images:           []models.ImageInput{{Data: []byte("jpeg"), ContentType: "image/jpeg"}},
	}
}

// registerWithFacility registers aff-1 and creates one facility for it
func (e *testEnv) registerWithFacility(t *testing.T) (affiliateToken string, facility models.Facility) {
	t.Helper()
	affiliateToken = e.token(t, "aff-1", models.RoleAffiliate)

	w := e.do(t, http.MethodPost, "/api/affiliates", affiliateToken, models.RegisterAffiliateRequest{DisplayName: "Ana"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/facilities", affiliateToken, facilityDraft("Casa Verde"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return affiliateToken, decode[models.Facility](t, w)
}

func bookingRequest(facilityID string) models.CreateBookingRequest {
	return models.CreateBookingRequest{FacilityID: facilityID, TourType: models.TourDay, Date: "2024-06-01"}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodGet, "/api/facilities", "", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Equal(t, "Unauthorized", decode[models.ErrorResponse](t, w).Kind)
}

func TestInvalidTokenIsUnauthorized(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodGet, "/api/facilities", "Bearer not-a-jwt", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCustomerCannotCreateFacility(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/facilities", env.token(t, "cust-1", models.RoleCustomer), facilityDraft("Casa Verde"))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateFacility(t *testing.T) {
	env := setupRouter(t)
	token, facility := env.registerWithFacility(t)

	assert.NotEmpty(t, facility.ID)
	assert.Equal(t, "aff-1", facility.AffiliateID)
	assert.Equal(t, models.Available, facility.Availability)
	require.Len(t, facility.Images, 1)
	assert.Contains(t, facility.Images[0].URL, "https://img.test/")

	w := env.do(t, http.MethodGet, "/api/facilities/"+facility.ID, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateFacility_MissingFieldsRejected(t *testing.T) {
	env := setupRouter(t)
	token, _ := env.registerWithFacility(t)

	draft := facilityDraft("No images")
	draft.Images = nil
	w := env.do(t, http.MethodPost, "/api/facilities", token, draft)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode[models.ErrorResponse](t, w).Kind)
}

func TestCreateFacility_MalformedBody(t *testing.T) {
	env := setupRouter(t)
	token, _ := env.registerWithFacility(t)

	req, _ := http.NewRequest(http.MethodPost, "/api/facilities", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "body", decode[models.ErrorResponse](t, w).Field)
}

func TestUpdateFacility_OtherAffiliateGetsNotFound(t *testing.T) {
	env := setupRouter(t)
	_, facility := env.registerWithFacility(t)

	other := env.token(t, "aff-2", models.RoleAffiliate)
	w := env.do(t, http.MethodPost, "/api/affiliates", other, models.RegisterAffiliateRequest{DisplayName: "Ben"})
	require.Equal(t, http.StatusCreated, w.Code)

	name := "Stolen"
	w = env.do(t, http.MethodPatch, "/api/facilities/"+facility.ID, other, models.FacilityPatch{Name: &name})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetFacility_NotFound(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodGet, "/api/facilities/missing", env.token(t, "cust-1", models.RoleCustomer), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", decode[models.ErrorResponse](t, w).Kind)
}

func TestBookingFlow(t *testing.T) {
	env := setupRouter(t)
	affiliate, facility := env.registerWithFacility(t)
	ana := env.token(t, "cust-1", models.RoleCustomer)
	ben := env.token(t, "cust-2", models.RoleCustomer)

	w := env.do(t, http.MethodPost, "/api/bookings", ana, bookingRequest(facility.ID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	booking := decode[models.Booking](t, w)
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.True(t, decimal.NewFromInt(500).Equal(booking.Amount))

	// второй запрос на тот же слот
	w = env.do(t, http.MethodPost, "/api/bookings", ben, bookingRequest(facility.ID))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SlotConflict", decode[models.ErrorResponse](t, w).Kind)

	w = env.do(t, http.MethodGet, "/api/affiliates/me/counters", affiliate, nil)
	require.Equal(t, http.StatusOK, w.Code)
	counters := decode[models.AggregateCounters](t, w)
	assert.Equal(t, int64(1), counters.PendingBookings)
	assert.Equal(t, int64(1), counters.Facilities)

	w = env.do(t, http.MethodPatch, "/api/bookings/"+booking.ID+"/confirm", affiliate, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.BookingConfirmed, decode[models.Booking](t, w).Status)

	w = env.do(t, http.MethodPatch, "/api/bookings/"+booking.ID+"/cancel", ana, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InvalidTransition", decode[models.ErrorResponse](t, w).Kind)
}

func TestRejectBookingWithReason(t *testing.T) {
	env := setupRouter(t)
	affiliate, facility := env.registerWithFacility(t)
	ana := env.token(t, "cust-1", models.RoleCustomer)

	w := env.do(t, http.MethodPost, "/api/bookings", ana, bookingRequest(facility.ID))
	require.Equal(t, http.StatusCreated, w.Code)
	booking := decode[models.Booking](t, w)

	w = env.do(t, http.MethodPatch, "/api/bookings/"+booking.ID+"/reject", affiliate, models.RejectBookingRequest{Reason: "maintenance"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode[models.Booking](t, w)
	assert.Equal(t, models.BookingRejected, rejected.Status)
	assert.Equal(t, "maintenance", rejected.Reason)

	// слот освобожден
	w = env.do(t, http.MethodPost, "/api/bookings", ana, bookingRequest(facility.ID))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateBooking_InvalidDate(t *testing.T) {
	env := setupRouter(t)
	_, facility := env.registerWithFacility(t)

	req := bookingRequest(facility.ID)
	req.Date = "01/06/2024"
	w := env.do(t, http.MethodPost, "/api/bookings", env.token(t, "cust-1", models.RoleCustomer), req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBooking_HiddenFromOtherCustomers(t *testing.T) {
	env := setupRouter(t)
	affiliate, facility := env.registerWithFacility(t)

	w := env.do(t, http.MethodPost, "/api/bookings", env.token(t, "cust-1", models.RoleCustomer), bookingRequest(facility.ID))
	require.Equal(t, http.StatusCreated, w.Code)
	booking := decode[models.Booking](t, w)

	w = env.do(t, http.MethodGet, "/api/bookings/"+booking.ID, env.token(t, "cust-2", models.RoleCustomer), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/bookings/"+booking.ID, affiliate, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/bookings/"+booking.ID, env.token(t, "root", models.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSuspendedAffiliateIsLocked(t *testing.T) {
	env := setupRouter(t)
	affiliate, facility := env.registerWithFacility(t)
	admin := env.token(t, "root", models.RoleAdmin)

	env.clock.Advance(service.DefaultSubscriptionCycle + service.DefaultGracePeriod + 24*time.Hour)
	w := env.do(t, http.MethodPost, "/api/admin/subscriptions/evaluate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/bookings", env.token(t, "cust-1", models.RoleCustomer), bookingRequest(facility.ID))
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "SubscriptionBlocked", decode[models.ErrorResponse](t, w).Kind)

	w = env.do(t, http.MethodPost, "/api/facilities", affiliate, facilityDraft("Second"))
	assert.Equal(t, http.StatusLocked, w.Code)

	// чтение остается доступным
	w = env.do(t, http.MethodGet, "/api/facilities/"+facility.ID, affiliate, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEvaluateSubscriptions_AdminOnly(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/admin/subscriptions/evaluate", env.token(t, "aff-1", models.RoleAffiliate), nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSearchFacilities(t *testing.T) {
	env := setupRouter(t)
	token, facility := env.registerWithFacility(t)

	w := env.do(t, http.MethodGet, "/api/facilities?q=verde", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := decode[models.ListFacilitiesResponse](t, w)
	require.Len(t, found.Facilities, 1)
	assert.Equal(t, facility.ID, found.Facilities[0].ID)

	w = env.do(t, http.MethodGet, "/api/facilities?pageSize=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAudit(t *testing.T) {
	env := setupRouter(t)
	token, _ := env.registerWithFacility(t)

	w := env.do(t, http.MethodGet, "/api/affiliates/me/audit", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ana added facility Casa Verde.")

	w = env.do(t, http.MethodGet, "/api/affiliates/me/audit?from=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
