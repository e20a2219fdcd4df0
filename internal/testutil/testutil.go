// Package testutil provides common test utilities and helpers for NudgeLoop tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/api"
	"github.com/NudgeLoop/NudgeLoop/internal/engine"
	"github.com/NudgeLoop/NudgeLoop/internal/messaging"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
	"github.com/NudgeLoop/NudgeLoop/internal/trigger"
)

// FixedClock is an engine.Clock that tests can step manually.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

// Advance moves the clock forward.
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// FixedRNG always returns the same value, pinning content rotation.
type FixedRNG struct {
	V int
}

func (r FixedRNG) IntN(n int) int {
	if r.V >= n {
		return 0
	}
	return r.V
}

// NewTestEngine builds an engine over in-memory dependencies and a mock
// transport. The clock starts at a weekday mid-morning so quiet-hour and
// weekend conditions stay out of the way unless a test wants them.
func NewTestEngine(t *testing.T) (*engine.Engine, *store.InMemoryStore, *messaging.MockService, *FixedClock) {
	t.Helper()
	st := store.NewInMemoryStore()
	svc := messaging.NewMockService()
	clock := &FixedClock{T: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)}
	eng := engine.NewEngine(st, nil, trigger.DefaultLibrary(), svc, nil, clock, FixedRNG{}, nil)
	return eng, st, svc, clock
}

// NewTestServer creates a test API server with in-memory dependencies.
func NewTestServer(t *testing.T) *api.Server {
	t.Helper()
	eng, _, svc, _ := NewTestEngine(t)
	return api.NewServer(eng, svc)
}

// Snapshot returns a valid baseline context snapshot for the given user,
// aligned with the NewTestEngine clock.
func Snapshot(userID string) models.ContextSnapshot {
	return models.ContextSnapshot{
		UserID:          userID,
		Timestamp:       time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		EmotionalState:  10,
		StressLevel:     30,
		EnergyLevel:     60,
		MotivationLevel: 60,
		Location:        "home",
		Activity:        "idle",
		Social:          models.SocialAlone,
		Environment: models.EnvironmentalFactors{
			TimeOfDay: 10,
			DayOfWeek: 2,
		},
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
