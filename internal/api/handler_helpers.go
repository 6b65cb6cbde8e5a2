package api

import (
	"encoding/json"
	"net/http"
	"time"

	"query-enhancements/internal/domain"
)

// maxBodyBytes bounds a decoded request body.
const maxBodyBytes = 10 << 20

// errorResponse is the JSON error envelope of every route.
type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// decodeJSON reads a JSON body into v. Any failure is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	if dec.More() {
		return domain.ErrValidation("invalid request body: %s", "trailing data")
	}
	return nil
}

// === Mapping helpers ===

// credentialsSummary is the non-secret part of stored credentials.
type credentialsSummary struct {
	Username string `json:"username,omitempty"`
	Region   string `json:"region,omitempty"`
	Service  string `json:"service,omitempty"`
}

// dataSourceResponse is the API view of a data source. Passwords and keys
// are never returned.
type dataSourceResponse struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Endpoint    string              `json:"endpoint"`
	Type        string              `json:"dataSourceEngineType,omitempty"`
	AuthType    domain.AuthType     `json:"authType"`
	Credentials credentialsSummary  `json:"credentials"`
	Health      domain.HealthStatus `json:"health"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

func dataSourceToAPI(ds domain.DataSource) dataSourceResponse {
	return dataSourceResponse{
		ID:          ds.ID,
		Title:       ds.Title,
		Description: ds.Description,
		Endpoint:    ds.Endpoint,
		Type:        ds.Type,
		AuthType:    ds.AuthType,
		Credentials: credentialsSummary{
			Username: ds.Credentials.Username,
			Region:   ds.Credentials.Region,
			Service:  ds.Credentials.Service,
		},
		Health:    ds.Health,
		CreatedAt: ds.CreatedAt,
		UpdatedAt: ds.UpdatedAt,
	}
}

func dataSourcesToAPI(list []domain.DataSource) []dataSourceResponse {
	out := make([]dataSourceResponse, len(list))
	for i, ds := range list {
		out[i] = dataSourceToAPI(ds)
	}
	return out
}

// cancelResponse acknowledges a cancel request.
type cancelResponse struct {
	QueryID string `json:"queryId"`
	Status  string `json:"status"`
}

func cancelledResponse(queryID string) cancelResponse {
	return cancelResponse{QueryID: queryID, Status: "cancelled"}
}
