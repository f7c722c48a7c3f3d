package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinical-report-engine/internal/domain"
)

// PatientsClient reads patient records and clinical source data from the
// practice management system. All access is read-only.
type PatientsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPatientsClient creates a new patient data client
func NewPatientsClient(config domain.PatientsConfig) *PatientsClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &PatientsClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// GetPatient retrieves a patient's demographic record
func (c *PatientsClient) GetPatient(ctx context.Context, patientID string) (*domain.PatientRecord, error) {
	endpoint := fmt.Sprintf("%s/patients/%s", c.baseURL, url.PathEscape(patientID))

	var record domain.PatientRecord
	if err := c.getJSON(ctx, endpoint, &record); err != nil {
		return nil, fmt.Errorf("fetching patient %s: %w", patientID, err)
	}

	return &record, nil
}

// GetClinicalInputs aggregates the clinical notes and booking history used as
// source material for AI generation.
func (c *PatientsClient) GetClinicalInputs(ctx context.Context, patientID string, disciplines []string) (*domain.ClinicalInputs, error) {
	endpoint := fmt.Sprintf("%s/patients/%s/clinical-inputs", c.baseURL, url.PathEscape(patientID))
	if len(disciplines) > 0 {
		params := url.Values{"disciplines": {strings.Join(disciplines, ",")}}
		endpoint += "?" + params.Encode()
	}

	var inputs domain.ClinicalInputs
	if err := c.getJSON(ctx, endpoint, &inputs); err != nil {
		return nil, fmt.Errorf("fetching clinical inputs for %s: %w", patientID, err)
	}

	inputs.PatientID = patientID
	inputs.Disciplines = disciplines
	return &inputs, nil
}

func (c *PatientsClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
