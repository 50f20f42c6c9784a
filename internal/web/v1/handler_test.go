package v1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/duynhne/registration-service/internal/core/domain"
	"github.com/duynhne/registration-service/internal/core/repository/memory"
	"github.com/duynhne/registration-service/internal/core/validation"
	logicv1 "github.com/duynhne/registration-service/internal/logic/v1"
	"github.com/duynhne/registration-service/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	router   *gin.Engine
	repo     *memory.CustomerRepository
	sessions *logicv1.SessionStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	repo := memory.NewCustomerRepository()
	rules := validation.New()
	directory := logicv1.NewDirectory(repo, nil, logger, time.Second)
	service := logicv1.NewRegistrationService(rules, repo, directory, nil, logger, logicv1.WithBcryptCost(bcrypt.MinCost))
	sessions := logicv1.NewSessionStore(directory, service, time.Second, time.Minute, logger)

	r := gin.New()
	r.Use(middleware.LoggingMiddleware(logger))
	api := r.Group("/api/v1")
	NewCustomerHandler(service, directory, rules).RegisterRoutes(api)
	NewSessionHandler(sessions).RegisterRoutes(api)

	return &testAPI{router: r, repo: repo, sessions: sessions}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

func registrationBody() map[string]string {
	return map[string]string{
		"name":            "Jane Doe",
		"email":           "jane.doe@example.com",
		"phoneNumber":     "555-123-4567",
		"gender":          "female",
		"dateOfBirth":     "1990-04-12",
		"address":         "12 Market Street, Springfield",
		"password":        "s3cret!",
		"confirmPassword": "s3cret!",
		"latitude":        "12.9716",
		"longitude":       "77.5946",
	}
}

func TestRegister_Created(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodPost, "/api/v1/customers", registrationBody())

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["success"])
	record := body["record"].(map[string]any)
	assert.Equal(t, "5551234567", record["phoneNumber"])
	assert.Equal(t, "", record["password"])
	assert.NotContains(t, w.Body.String(), "s3cret!")
	assert.Equal(t, 1, api.repo.Len())
}

func TestRegister_ValidationErrors(t *testing.T) {
	api := newTestAPI(t)
	in := registrationBody()
	in["name"] = "J"
	in["confirmPassword"] = "other"

	w, body := api.do(t, http.MethodPost, "/api/v1/customers", in)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "validation", body["reason"])
	fieldErrors := body["fieldErrors"].(map[string]any)
	assert.Contains(t, fieldErrors, "name")
	assert.Equal(t, "Passwords do not match", fieldErrors["confirmPassword"])
	assert.Equal(t, 0, api.repo.Len())
}

func TestRegister_MalformedJSON(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_Duplicates(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(t, http.MethodPost, "/api/v1/customers", registrationBody())
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := api.do(t, http.MethodPost, "/api/v1/customers", registrationBody())
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicateEmail", body["reason"])
	assert.Equal(t, map[string]any{"email": "This email is already registered"}, body["fieldErrors"])

	in := registrationBody()
	in["email"] = "other@example.com"
	w, body = api.do(t, http.MethodPost, "/api/v1/customers", in)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicatePhone", body["reason"])
	assert.Equal(t, map[string]any{"phoneNumber": "This phone number is already registered"}, body["fieldErrors"])
}

func TestLookup(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(t, http.MethodPost, "/api/v1/customers", registrationBody())
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := api.do(t, http.MethodGet, "/api/v1/customers/lookup?phone=(555)%20123-4567", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	record := body["record"].(map[string]any)
	assert.Equal(t, "jane.doe@example.com", record["email"])
	assert.Equal(t, "", record["password"])

	w, body = api.do(t, http.MethodGet, "/api/v1/customers/lookup?email=nobody@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["record"])

	w, _ = api.do(t, http.MethodGet, "/api/v1/customers/lookup", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateField(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.do(t, http.MethodPost, "/api/v1/validation/phoneNumber", map[string]any{"value": "555-1234"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Phone number must be exactly 10 digits", body["error"])

	w, body = api.do(t, http.MethodPost, "/api/v1/validation/password", map[string]any{"value": "Str0ng!pw"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["valid"])
	strength := body["strength"].(map[string]any)
	assert.Equal(t, "Strong", strength["label"])

	w, body = api.do(t, http.MethodPost, "/api/v1/validation/confirmPassword", map[string]any{
		"value": "abc123",
		"form":  map[string]string{"password": "abc1234"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Passwords do not match", body["error"])

	w, _ = api.do(t, http.MethodPost, "/api/v1/validation/favouriteColour", map[string]any{"value": "blue"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionFlow_AutofillThenSubmit(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(t, http.MethodPost, "/api/v1/customers", registrationBody())
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := api.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := body["id"].(string)
	base := "/api/v1/sessions/" + id

	w, _ = api.do(t, http.MethodPost, base+"/autofill", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no candidate yet")

	w, _ = api.do(t, http.MethodPatch, base+"/form", map[string]string{"phoneNumber": "5551234567"})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		_, snap := api.do(t, http.MethodGet, base, nil)
		lookup := snap["lookup"].(map[string]any)
		return lookup["state"] == string(logicv1.StateFound)
	}, 2*time.Second, 10*time.Millisecond)

	w, body = api.do(t, http.MethodPost, base+"/autofill", nil)
	require.Equal(t, http.StatusOK, w.Code)
	form := body["form"].(map[string]any)
	assert.Equal(t, "Jane Doe", form["name"])
	assert.Equal(t, "jane.doe@example.com", form["email"])

	// The same person registering again is still a duplicate.
	w, _ = api.do(t, http.MethodPatch, base+"/form", map[string]string{"password": "n3w-pass", "confirmPassword": "n3w-pass"})
	require.Equal(t, http.StatusOK, w.Code)
	w, body = api.do(t, http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicateEmail", body["reason"])
}

func TestSessionFlow_NewCustomerSubmit(t *testing.T) {
	api := newTestAPI(t)

	_, body := api.do(t, http.MethodPost, "/api/v1/sessions", nil)
	base := "/api/v1/sessions/" + body["id"].(string)

	w, _ := api.do(t, http.MethodPatch, base+"/form", registrationBody())
	require.Equal(t, http.StatusOK, w.Code)

	w, body = api.do(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusCreated, w.Code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, api.repo.Len())

	w, _ = api.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = api.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionEvents_StreamsTransitions(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	snap := api.sessions.Create()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/"+snap.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	first := readSSEData(t, reader)
	assert.Equal(t, logicv1.StateIdle, first.State)

	phone := "5550001111"
	_, err = api.sessions.Update(snap.ID, domain.FormPatch{PhoneNumber: &phone})
	require.NoError(t, err)

	checking := readSSEData(t, reader)
	assert.Equal(t, logicv1.StateChecking, checking.State)
	resolved := readSSEData(t, reader)
	assert.Equal(t, logicv1.StateNew, resolved.State)
	assert.Equal(t, logicv1.NoticeNewCustomer, resolved.Notice)
}

func TestSessionEvents_UnknownSession(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(t, http.MethodGet, "/api/v1/sessions/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func readSSEData(t *testing.T, r *bufio.Reader) logicv1.LookupEvent {
	t.Helper()
	var event logicv1.LookupEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			require.NoError(t, json.Unmarshal([]byte(data), &event))
			return event
		}
	}
}
