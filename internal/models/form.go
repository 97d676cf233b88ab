package models

import "github.com/google/uuid"

type FieldType string

const (
	FieldTypeSingleLineText FieldType = "singleLineText"
	FieldTypeMultilineText  FieldType = "multilineText"
	FieldTypeSingleSelect   FieldType = "singleSelect"
	FieldTypeMultipleSelect FieldType = "multipleSelect"
	FieldTypeAttachment     FieldType = "attachment"
)

type ConditionalOperator string

const (
	OperatorEquals    ConditionalOperator = "equals"
	OperatorNotEquals ConditionalOperator = "notEquals"
	OperatorContains  ConditionalOperator = "contains"
)

// ConditionalLogic makes a field visible only when another field's answer
// matches ShowWhen under the given operator.
type ConditionalLogic struct {
	DependsOn string              `json:"dependsOn"`
	ShowWhen  string              `json:"showWhen"`
	Operator  ConditionalOperator `json:"operator"`
}

// FormField has no identity of its own; it lives and dies with its Form.
type FormField struct {
	AirtableFieldID   string            `json:"airtableFieldId"`
	AirtableFieldName string            `json:"airtableFieldName"`
	FieldType         FieldType         `json:"fieldType"`
	QuestionLabel     string            `json:"questionLabel"`
	IsRequired        bool              `json:"isRequired"`
	Options           []string          `json:"options,omitempty"`
	ConditionalLogic  *ConditionalLogic `json:"conditionalLogic,omitempty"`
	Order             int               `json:"order"`
}

type Form struct {
	BaseModel
	UserID            uuid.UUID   `json:"userId" gorm:"type:uuid;not null;index"`
	Title             string      `json:"title" gorm:"type:varchar(255);not null"`
	Description       *string     `json:"description,omitempty" gorm:"type:text"`
	AirtableBaseID    string      `json:"airtableBaseId" gorm:"type:varchar(64);not null"`
	AirtableTableID   string      `json:"airtableTableId" gorm:"type:varchar(64);not null"`
	AirtableBaseName  string      `json:"airtableBaseName" gorm:"type:varchar(255)"`
	AirtableTableName string      `json:"airtableTableName" gorm:"type:varchar(255)"`
	Fields            []FormField `json:"fields" gorm:"type:jsonb;serializer:json"`
	IsActive          bool        `json:"isActive" gorm:"not null;default:true"`
	SubmissionCount   int64       `json:"submissionCount" gorm:"not null;default:0"`
	User              User        `json:"-" gorm:"foreignKey:UserID"`
}

// PublicForm is the projection served on the unauthenticated path. Owner,
// counters and activity state stay private.
type PublicForm struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	Description     *string     `json:"description,omitempty"`
	Fields          []FormField `json:"fields"`
	AirtableBaseID  string      `json:"airtableBaseId"`
	AirtableTableID string      `json:"airtableTableId"`
}

func (f *Form) Public() *PublicForm {
	return &PublicForm{
		ID:              f.ID,
		Title:           f.Title,
		Description:     f.Description,
		Fields:          f.Fields,
		AirtableBaseID:  f.AirtableBaseID,
		AirtableTableID: f.AirtableTableID,
	}
}
