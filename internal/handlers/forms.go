package handlers

import (
	"errors"

	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/middleware"
	"github.com/formbridge/backend/internal/models"
	"github.com/formbridge/backend/internal/services"
	"github.com/formbridge/backend/pkg/logger"
	"github.com/formbridge/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FormsHandler struct {
	DB    *gorm.DB
	Cfg   *config.Config
	Forms *services.FormService
	Auth  *services.AirtableAuthService
}

func NewFormsHandler(db *gorm.DB, cfg *config.Config, forms *services.FormService, auth *services.AirtableAuthService) *FormsHandler {
	return &FormsHandler{DB: db, Cfg: cfg, Forms: forms, Auth: auth}
}

type createFormRequest struct {
	Title             string             `json:"title"`
	Description       *string            `json:"description"`
	AirtableBaseID    string             `json:"airtableBaseId"`
	AirtableTableID   string             `json:"airtableTableId"`
	AirtableBaseName  string             `json:"airtableBaseName"`
	AirtableTableName string             `json:"airtableTableName"`
	Fields            []models.FormField `json:"fields"`
}

func (h *FormsHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createFormRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	form, err := h.Forms.Create(c.Context(), currentUser.ID, services.FormDefinition{
		Title:             req.Title,
		Description:       req.Description,
		AirtableBaseID:    req.AirtableBaseID,
		AirtableTableID:   req.AirtableTableID,
		AirtableBaseName:  req.AirtableBaseName,
		AirtableTableName: req.AirtableTableName,
		Fields:            req.Fields,
	})
	if err != nil {
		return h.serviceError(c, err, "failed creating form")
	}

	logger.InfoWithUser(currentUser.ID.String(), "form_created", map[string]interface{}{
		"form_id":    form.ID.String(),
		"form_title": form.Title,
	})

	return utils.Success(c, fiber.StatusCreated, form)
}

func (h *FormsHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 10)

	forms, total, err := h.Forms.ListForOwner(c.Context(), currentUser.ID, page, limit)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing forms")
	}

	return utils.Paginated(c, forms, page, limit, total)
}

// Get serves both the owner view and the shared-link view. With a session the
// form must belong to the requester; without one no ownership check runs.
func (h *FormsHandler) Get(c *fiber.Ctx) error {
	formID, err := parseUUID(c.Params("formId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid form id")
	}

	var requesterID *uuid.UUID
	if currentUser := middleware.GetCurrentUser(c); currentUser != nil {
		requesterID = &currentUser.ID
	}

	form, err := h.Forms.GetByID(c.Context(), formID, requesterID)
	if err != nil {
		return h.serviceError(c, err, "failed loading form")
	}
	return utils.Success(c, fiber.StatusOK, form)
}

type updateFormRequest struct {
	Title             *string             `json:"title"`
	Description       *string             `json:"description"`
	AirtableBaseName  *string             `json:"airtableBaseName"`
	AirtableTableName *string             `json:"airtableTableName"`
	Fields            *[]models.FormField `json:"fields"`
	IsActive          *bool               `json:"isActive"`
}

func (h *FormsHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	formID, err := parseUUID(c.Params("formId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid form id")
	}

	var req updateFormRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	form, err := h.Forms.Update(c.Context(), formID, currentUser.ID, services.FormPatch{
		Title:             req.Title,
		Description:       req.Description,
		AirtableBaseName:  req.AirtableBaseName,
		AirtableTableName: req.AirtableTableName,
		Fields:            req.Fields,
		IsActive:          req.IsActive,
	})
	if err != nil {
		return h.serviceError(c, err, "failed updating form")
	}
	return utils.Success(c, fiber.StatusOK, form)
}

func (h *FormsHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	formID, err := parseUUID(c.Params("formId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid form id")
	}

	if err := h.Forms.Delete(c.Context(), formID, currentUser.ID); err != nil {
		return h.serviceError(c, err, "failed deleting form")
	}

	logger.InfoWithUser(currentUser.ID.String(), "form_deleted", map[string]interface{}{
		"form_id": formID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "form deleted"})
}

// PublicGet serves the unauthenticated projection of an active form.
func (h *FormsHandler) PublicGet(c *fiber.Ctx) error {
	formID, err := parseUUID(c.Params("formId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid form id")
	}

	form, err := h.Forms.GetPublicByID(c.Context(), formID)
	if err != nil {
		return h.serviceError(c, err, "failed loading form")
	}
	return utils.Success(c, fiber.StatusOK, form.Public())
}

type submitFormRequest struct {
	Fields map[string]interface{} `json:"fields"`
}

// PublicSubmit writes one submission back to the form's Airtable table using
// the owner's access token, refreshing it first when stale. Answers are
// validated against the form's required and conditional-visibility rules.
func (h *FormsHandler) PublicSubmit(c *fiber.Ctx) error {
	formID, err := parseUUID(c.Params("formId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid form id")
	}

	form, err := h.Forms.GetPublicByID(c.Context(), formID)
	if err != nil {
		return h.serviceError(c, err, "failed loading form")
	}

	var req submitFormRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Fields) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "fields object is required")
	}

	if err := services.ValidateSubmission(form, req.Fields); err != nil {
		return h.serviceError(c, err, "invalid submission")
	}

	var owner models.User
	if err := h.DB.First(&owner, "id = ?", form.UserID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading form owner")
	}

	if err := h.Auth.EnsureFreshToken(c.Context(), &owner); err != nil {
		logger.WarnWithUser(owner.ID.String(), "submission_owner_token_stale", map[string]interface{}{
			"form_id": form.ID.String(),
			"error":   err.Error(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "form is temporarily unavailable")
	}

	client := services.NewAirtableAPIService(h.Cfg.Airtable, owner.AccessToken)
	record, err := client.CreateRecord(c.Context(), form.AirtableBaseID, form.AirtableTableID, req.Fields)
	if err != nil {
		logger.WarnWithUser(owner.ID.String(), "submission_record_failed", map[string]interface{}{
			"form_id": form.ID.String(),
			"error":   err.Error(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed submitting form")
	}

	if err := h.Forms.IncrementSubmissionCount(c.Context(), form.ID); err != nil {
		logger.Error("submission_count_update_failed", map[string]interface{}{
			"form_id": form.ID.String(),
			"error":   err.Error(),
		})
	}

	logger.Info("form_submitted", map[string]interface{}{
		"form_id":   form.ID.String(),
		"record_id": record.ID,
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"recordId": record.ID})
}

func (h *FormsHandler) serviceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrForbidden):
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	case errors.Is(err, services.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "form not found")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, fallback)
	}
}
