package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-report-engine/internal/domain"
)

func newAITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *AIClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewAIClient(domain.AIConfig{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		Model:     "test-model",
		Timeout:   5 * time.Second,
		RateLimit: 100,
		RateBurst: 100,
	})
	return server, client
}

func TestAIClient_Generate(t *testing.T) {
	var gotAuth, gotModel string
	_, client := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "  Patient attended six sessions.  "}},
			},
		})
	})

	text, err := client.Generate(context.Background(), "summarize bookings")
	require.NoError(t, err)
	assert.Equal(t, "Patient attended six sessions.", text)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotModel)
}

func TestAIClient_Generate_UpstreamError(t *testing.T) {
	_, client := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	})

	_, err := client.Generate(context.Background(), "summarize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestAIClient_Generate_EmptyChoices(t *testing.T) {
	_, client := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Generate(context.Background(), "summarize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(domain.CONTENT_TREATMENT_SUMMARY, &domain.ClinicalInputs{
		PatientID:   "patient_7",
		Disciplines: []string{"physio", "speech"},
		Notes:       "improving gait",
		Bookings:    "6 sessions attended",
	})

	assert.Contains(t, prompt, "treatment_summary")
	assert.Contains(t, prompt, "physio, speech")
	assert.Contains(t, prompt, "improving gait")
	assert.Contains(t, prompt, "6 sessions attended")
}

func TestPatientsClient_GetPatient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/patient_7", r.URL.Path)
		json.NewEncoder(w).Encode(domain.PatientRecord{
			ID:        "patient_7",
			FirstName: "Alex",
			LastName:  "Rivera",
		})
	}))
	defer server.Close()

	client := NewPatientsClient(domain.PatientsConfig{BaseURL: server.URL})
	record, err := client.GetPatient(context.Background(), "patient_7")
	require.NoError(t, err)
	assert.Equal(t, "Alex", record.FirstName)
}

func TestPatientsClient_GetPatient_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewPatientsClient(domain.PatientsConfig{BaseURL: server.URL})
	_, err := client.GetPatient(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPatientsClient_GetClinicalInputs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/patient_7/clinical-inputs", r.URL.Path)
		assert.Equal(t, "physio,speech", r.URL.Query().Get("disciplines"))
		json.NewEncoder(w).Encode(map[string]string{
			"notes":    "improving gait",
			"bookings": "6 sessions attended",
		})
	}))
	defer server.Close()

	client := NewPatientsClient(domain.PatientsConfig{BaseURL: server.URL})
	inputs, err := client.GetClinicalInputs(context.Background(), "patient_7", []string{"physio", "speech"})
	require.NoError(t, err)
	assert.Equal(t, "patient_7", inputs.PatientID)
	assert.Equal(t, []string{"physio", "speech"}, inputs.Disciplines)
	assert.Equal(t, "improving gait", inputs.Notes)
}

// flakyGenerator fails until the failure budget is spent
type flakyGenerator struct {
	failures atomic.Int64
	budget   int64
}

func (f *flakyGenerator) Generate(ctx context.Context, promptContext string) (string, error) {
	if f.failures.Add(1) <= f.budget {
		return "", errors.New("upstream timeout")
	}
	return "recovered narrative", nil
}

func TestResilientGenerator_OpensAfterFailures(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	gen := NewResilientGenerator(&flakyGenerator{budget: 100}, time.Minute, logger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := gen.Generate(ctx, "draft summary")
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, gen.State())

	_, err := gen.Generate(ctx, "draft summary")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "circuit breaker open"))
}

func TestResilientGenerator_PassesThrough(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	gen := NewResilientGenerator(&flakyGenerator{budget: 0}, time.Minute, logger)

	text, err := gen.Generate(context.Background(), "draft summary")
	require.NoError(t, err)
	assert.Equal(t, "recovered narrative", text)
}
