package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/formbridge/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FormService struct {
	DB *gorm.DB
}

func NewFormService(db *gorm.DB) *FormService {
	return &FormService{DB: db}
}

// FormDefinition is the owner-supplied shape of a new form.
type FormDefinition struct {
	Title             string
	Description       *string
	AirtableBaseID    string
	AirtableTableID   string
	AirtableBaseName  string
	AirtableTableName string
	Fields            []models.FormField
}

// FormPatch applies partial updates; nil members are left untouched.
type FormPatch struct {
	Title             *string
	Description       *string
	AirtableBaseName  *string
	AirtableTableName *string
	Fields            *[]models.FormField
	IsActive          *bool
}

func (s *FormService) Create(ctx context.Context, ownerID uuid.UUID, def FormDefinition) (*models.Form, error) {
	def.Title = strings.TrimSpace(def.Title)
	if def.Title == "" || def.AirtableBaseID == "" || def.AirtableTableID == "" || len(def.Fields) == 0 {
		return nil, fmt.Errorf("%w: title, base id, table id and fields are required", ErrValidation)
	}

	fields := make([]models.FormField, len(def.Fields))
	for i, field := range def.Fields {
		if field.AirtableFieldID == "" || strings.TrimSpace(field.QuestionLabel) == "" {
			return nil, fmt.Errorf("%w: every field needs an airtable field id and a question label", ErrValidation)
		}
		if !IsFieldTypeSupported(string(field.FieldType)) {
			return nil, fmt.Errorf("%w: unsupported field type %q", ErrValidation, field.FieldType)
		}
		// Zero means unassigned; fields default to their submission position.
		if field.Order == 0 {
			field.Order = i
		}
		fields[i] = field
	}

	form := models.Form{
		UserID:            ownerID,
		Title:             def.Title,
		Description:       def.Description,
		AirtableBaseID:    def.AirtableBaseID,
		AirtableTableID:   def.AirtableTableID,
		AirtableBaseName:  def.AirtableBaseName,
		AirtableTableName: def.AirtableTableName,
		Fields:            fields,
		IsActive:          true,
		SubmissionCount:   0,
	}

	if err := s.DB.WithContext(ctx).Create(&form).Error; err != nil {
		return nil, err
	}
	return &form, nil
}

func (s *FormService) ListForOwner(ctx context.Context, ownerID uuid.UUID, page, limit int) ([]models.Form, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.Form{}).Where("user_id = ?", ownerID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var forms []models.Form
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&forms).Error
	if err != nil {
		return nil, 0, err
	}
	return forms, total, nil
}

// GetByID fetches a form. With a requester set, non-owners are rejected with
// ErrForbidden; without one, ownership is not checked, so public access must
// go through GetPublicByID instead.
func (s *FormService) GetByID(ctx context.Context, formID uuid.UUID, requesterID *uuid.UUID) (*models.Form, error) {
	var form models.Form
	if err := s.DB.WithContext(ctx).First(&form, "id = ?", formID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if requesterID != nil && form.UserID != *requesterID {
		return nil, ErrForbidden
	}
	return &form, nil
}

// GetPublicByID fetches an active form for the unauthenticated path. Inactive
// and missing forms are indistinguishable.
func (s *FormService) GetPublicByID(ctx context.Context, formID uuid.UUID) (*models.Form, error) {
	var form models.Form
	err := s.DB.WithContext(ctx).First(&form, "id = ? AND is_active = ?", formID, true).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &form, nil
}

// Update applies the patch only when the form belongs to ownerID. A missing
// form and someone else's form both come back as ErrNotFound.
func (s *FormService) Update(ctx context.Context, formID, ownerID uuid.UUID, patch FormPatch) (*models.Form, error) {
	updates := map[string]interface{}{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		updates["title"] = title
	}
	if patch.Description != nil {
		updates["description"] = patch.Description
	}
	if patch.AirtableBaseName != nil {
		updates["airtable_base_name"] = *patch.AirtableBaseName
	}
	if patch.AirtableTableName != nil {
		updates["airtable_table_name"] = *patch.AirtableTableName
	}
	if patch.Fields != nil {
		if len(*patch.Fields) == 0 {
			return nil, fmt.Errorf("%w: fields cannot be empty", ErrValidation)
		}
		updates["fields"] = *patch.Fields
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no valid fields to update", ErrValidation)
	}

	result := s.DB.WithContext(ctx).
		Model(&models.Form{}).
		Where("id = ? AND user_id = ?", formID, ownerID).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var updated models.Form
	if err := s.DB.WithContext(ctx).First(&updated, "id = ?", formID).Error; err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *FormService) Delete(ctx context.Context, formID, ownerID uuid.UUID) error {
	result := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", formID, ownerID).
		Delete(&models.Form{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *FormService) IncrementSubmissionCount(ctx context.Context, formID uuid.UUID) error {
	return s.DB.WithContext(ctx).
		Model(&models.Form{}).
		Where("id = ?", formID).
		UpdateColumn("submission_count", gorm.Expr("submission_count + ?", 1)).Error
}

// ValidateSubmission checks submitted answers against the form's field rules:
// required fields must be answered, but only when the field is visible under
// its conditional logic. Answers are keyed by Airtable field id or field name.
func ValidateSubmission(form *models.Form, answers map[string]interface{}) error {
	for _, field := range form.Fields {
		if !field.IsRequired {
			continue
		}
		if !fieldVisible(form, field, answers) {
			continue
		}
		if isEmptyAnswer(answerFor(field.AirtableFieldID, field.AirtableFieldName, answers)) {
			return fmt.Errorf("%w: %q is required", ErrValidation, field.QuestionLabel)
		}
	}
	return nil
}

func fieldVisible(form *models.Form, field models.FormField, answers map[string]interface{}) bool {
	logic := field.ConditionalLogic
	if logic == nil {
		return true
	}

	var depends *models.FormField
	for i := range form.Fields {
		if form.Fields[i].AirtableFieldID == logic.DependsOn {
			depends = &form.Fields[i]
			break
		}
	}
	if depends == nil {
		return true
	}

	answer := answerFor(depends.AirtableFieldID, depends.AirtableFieldName, answers)
	match := answerMatches(answer, logic)

	if logic.Operator == models.OperatorNotEquals {
		return !match
	}
	return match
}

func answerMatches(answer interface{}, logic *models.ConditionalLogic) bool {
	if answer == nil {
		return false
	}

	switch value := answer.(type) {
	case []interface{}:
		for _, item := range value {
			if fmt.Sprint(item) == logic.ShowWhen {
				return true
			}
		}
		return false
	case []string:
		for _, item := range value {
			if item == logic.ShowWhen {
				return true
			}
		}
		return false
	default:
		text := fmt.Sprint(value)
		if logic.Operator == models.OperatorContains {
			return strings.Contains(text, logic.ShowWhen)
		}
		return text == logic.ShowWhen
	}
}

func answerFor(fieldID, fieldName string, answers map[string]interface{}) interface{} {
	if value, ok := answers[fieldID]; ok {
		return value
	}
	return answers[fieldName]
}

func isEmptyAnswer(answer interface{}) bool {
	switch value := answer.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(value) == ""
	case []interface{}:
		return len(value) == 0
	case []string:
		return len(value) == 0
	default:
		return false
	}
}
