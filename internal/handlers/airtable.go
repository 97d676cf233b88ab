package handlers

import (
	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/middleware"
	"github.com/formbridge/backend/internal/services"
	"github.com/formbridge/backend/pkg/logger"
	"github.com/formbridge/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// AirtableHandler proxies base/table/field/record browsing against the
// Airtable API with the requesting user's access token. A fresh client is
// built per request; the middleware guarantees the token is current.
type AirtableHandler struct {
	Cfg *config.Config
}

func NewAirtableHandler(cfg *config.Config) *AirtableHandler {
	return &AirtableHandler{Cfg: cfg}
}

func (h *AirtableHandler) client(c *fiber.Ctx) *services.AirtableAPIService {
	user := middleware.GetCurrentUser(c)
	return services.NewAirtableAPIService(h.Cfg.Airtable, user.AccessToken)
}

func (h *AirtableHandler) ListBases(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	bases, err := h.client(c).ListBases(c.Context())
	if err != nil {
		return h.proxyError(c, "bases", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"bases": bases})
}

func (h *AirtableHandler) ListTables(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	baseID := c.Params("baseId")
	if baseID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "base id is required")
	}

	tables, err := h.client(c).ListTables(c.Context(), baseID)
	if err != nil {
		return h.proxyError(c, "tables", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"tables": tables})
}

// ListFields returns only the field types a form can be built from, plus the
// supported-type enumeration for the builder UI.
func (h *AirtableHandler) ListFields(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	baseID := c.Params("baseId")
	tableID := c.Params("tableId")
	if baseID == "" || tableID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "base id and table id are required")
	}

	fields, err := h.client(c).ListFields(c.Context(), baseID, tableID)
	if err != nil {
		return h.proxyError(c, "fields", err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"fields":              services.FilterSupportedFields(fields),
		"supportedFieldTypes": services.SupportedFieldTypes(),
	})
}

func (h *AirtableHandler) ListRecords(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	baseID := c.Params("baseId")
	tableID := c.Params("tableId")
	if baseID == "" || tableID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "base id and table id are required")
	}

	opts := services.RecordListOptions{
		MaxRecords:      c.QueryInt("maxRecords", 0),
		View:            c.Query("view"),
		FilterByFormula: c.Query("filterByFormula"),
	}

	records, err := h.client(c).ListRecords(c.Context(), baseID, tableID, opts)
	if err != nil {
		return h.proxyError(c, "records", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"records": records})
}

type createRecordRequest struct {
	Fields map[string]interface{} `json:"fields"`
}

func (h *AirtableHandler) CreateRecord(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	baseID := c.Params("baseId")
	tableID := c.Params("tableId")
	if baseID == "" || tableID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "base id and table id are required")
	}

	var req createRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Fields) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "fields object is required")
	}

	record, err := h.client(c).CreateRecord(c.Context(), baseID, tableID, req.Fields)
	if err != nil {
		return h.proxyError(c, "record creation", err)
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"record": record})
}

func (h *AirtableHandler) proxyError(c *fiber.Ctx, what string, err error) error {
	currentUser := middleware.GetCurrentUser(c)
	logger.WarnWithUser(currentUser.ID.String(), "airtable_proxy_failed", map[string]interface{}{
		"what":  what,
		"path":  c.Path(),
		"error": err.Error(),
	})
	return utils.Error(c, fiber.StatusInternalServerError, "airtable "+what+" request failed")
}
