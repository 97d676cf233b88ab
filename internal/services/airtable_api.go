package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/models"
)

const defaultMaxRecords = 100

type AirtableBase struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel"`
}

type AirtableTable struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	PrimaryFieldID string          `json:"primaryFieldId"`
	Description    string          `json:"description,omitempty"`
	Fields         []AirtableField `json:"fields,omitempty"`
}

type AirtableField struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Options     *FieldOptions `json:"options,omitempty"`
}

type FieldOptions struct {
	Choices []FieldChoice `json:"choices,omitempty"`
}

type FieldChoice struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type AirtableRecord struct {
	ID          string                 `json:"id"`
	Fields      map[string]interface{} `json:"fields"`
	CreatedTime string                 `json:"createdTime"`
}

// RecordListOptions narrows a record listing. A zero MaxRecords falls back to
// the default page cap of 100.
type RecordListOptions struct {
	MaxRecords      int
	View            string
	FilterByFormula string
}

// AirtableAPIService proxies calls against the Airtable data API with a
// per-request access token. It is stateless and constructed fresh per request.
type AirtableAPIService struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

func NewAirtableAPIService(cfg config.AirtableConfig, accessToken string) *AirtableAPIService {
	return &AirtableAPIService{
		baseURL:     cfg.APIBaseURL,
		accessToken: accessToken,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *AirtableAPIService) ListBases(ctx context.Context) ([]AirtableBase, error) {
	var payload struct {
		Bases []AirtableBase `json:"bases"`
	}
	if err := s.get(ctx, "list bases", "/v0/meta/bases", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Bases, nil
}

func (s *AirtableAPIService) ListTables(ctx context.Context, baseID string) ([]AirtableTable, error) {
	var payload struct {
		Tables []AirtableTable `json:"tables"`
	}
	path := fmt.Sprintf("/v0/meta/bases/%s/tables", url.PathEscape(baseID))
	if err := s.get(ctx, "list tables", path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Tables, nil
}

// ListFields returns the raw field schema of one table. The schema endpoint
// only exists at base granularity, so the table is picked out client-side.
func (s *AirtableAPIService) ListFields(ctx context.Context, baseID, tableID string) ([]AirtableField, error) {
	tables, err := s.ListTables(ctx, baseID)
	if err != nil {
		return nil, err
	}
	for _, table := range tables {
		if table.ID == tableID {
			return table.Fields, nil
		}
	}
	return nil, &ExternalAPIError{Op: "list fields", Status: http.StatusNotFound, Err: fmt.Errorf("table %s not found in base %s", tableID, baseID)}
}

func (s *AirtableAPIService) CreateRecord(ctx context.Context, baseID, tableID string, fields map[string]interface{}) (*AirtableRecord, error) {
	body, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, &ExternalAPIError{Op: "create record", Err: err}
	}

	path := fmt.Sprintf("/v0/%s/%s", url.PathEscape(baseID), url.PathEscape(tableID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &ExternalAPIError{Op: "create record", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var record AirtableRecord
	if err := s.do(req, "create record", &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *AirtableAPIService) ListRecords(ctx context.Context, baseID, tableID string, opts RecordListOptions) ([]AirtableRecord, error) {
	maxRecords := opts.MaxRecords
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}

	query := url.Values{}
	query.Set("maxRecords", strconv.Itoa(maxRecords))
	if opts.View != "" {
		query.Set("view", opts.View)
	}
	if opts.FilterByFormula != "" {
		query.Set("filterByFormula", opts.FilterByFormula)
	}

	var payload struct {
		Records []AirtableRecord `json:"records"`
	}
	path := fmt.Sprintf("/v0/%s/%s", url.PathEscape(baseID), url.PathEscape(tableID))
	if err := s.get(ctx, "list records", path, query, &payload); err != nil {
		return nil, err
	}
	return payload.Records, nil
}

func (s *AirtableAPIService) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	target := s.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &ExternalAPIError{Op: op, Err: err}
	}
	return s.do(req, op, out)
}

func (s *AirtableAPIService) do(req *http.Request, op string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return &ExternalAPIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ExternalAPIError{Op: op, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ExternalAPIError{Op: op, Err: err}
	}
	return nil
}

// SupportedFieldTypes is the fixed set of Airtable field types a form can be
// built from. Anything else is dropped at browse time, not errored.
func SupportedFieldTypes() []string {
	return []string{
		string(models.FieldTypeSingleLineText),
		string(models.FieldTypeMultilineText),
		string(models.FieldTypeSingleSelect),
		string(models.FieldTypeMultipleSelect),
		string(models.FieldTypeAttachment),
	}
}

func IsFieldTypeSupported(fieldType string) bool {
	for _, supported := range SupportedFieldTypes() {
		if fieldType == supported {
			return true
		}
	}
	return false
}

// FilterSupportedFields drops unsupported field types, preserving order.
func FilterSupportedFields(fields []AirtableField) []AirtableField {
	supported := make([]AirtableField, 0, len(fields))
	for _, field := range fields {
		if IsFieldTypeSupported(field.Type) {
			supported = append(supported, field)
		}
	}
	return supported
}
