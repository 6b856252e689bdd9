package model

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Task describes what an aggregation session is packing. It is supplied
// externally and never changed while its session is open.
type Task struct {
	ID                      string          `json:"id" validate:"required"`
	Date                    string          `json:"date,omitempty"`
	LineNum                 string          `json:"lineNum,omitempty"`
	IsGroup                 bool            `json:"isGroup,omitempty"`
	GTIN                    string          `json:"gtin" validate:"required,numeric,min=8,max=14"`
	LotNo                   string          `json:"lotNo,omitempty"`
	ExpDate                 string          `json:"expDate,omitempty"`
	AddProdInfo             string          `json:"addProdInfo,omitempty"`
	NumPacksInBox           int             `json:"numPacksInBox" validate:"required,min=1"`
	NumLayersInBox          int             `json:"numLayersInBox,omitempty"`
	MaxNoRead               int             `json:"maxNoRead,omitempty"`
	URLLabelProductTemplate string          `json:"urlLabelProductTemplate,omitempty"`
	URLLabelBoxTemplate     string          `json:"urlLabelBoxTemplate,omitempty"`
	NumLabelAtBox           int             `json:"numLabelAtBox,omitempty"`
	LengthBox               float64         `json:"lengthBox,omitempty"`
	NumPacksInParcel        int             `json:"numPacksInParcel,omitempty"`
	BoxLabelFields          json.RawMessage `json:"boxLabelFields,omitempty"`
	ProductNumbers          []string        `json:"productNumbers,omitempty"`
	BoxNumbers              []string        `json:"boxNumbers,omitempty"`
}

// UnmarshalJSON accepts the pack count under either spelling. Task issuing
// systems write the key with a Cyrillic 'Р'.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	aux := struct {
		*alias
		LegacyNumPacksInBox *int `json:"numРacksInBox"`
	}{alias: (*alias)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if t.NumPacksInBox == 0 && aux.LegacyNumPacksInBox != nil {
		t.NumPacksInBox = *aux.LegacyNumPacksInBox
	}
	return nil
}

var taskValidator = validator.New()

// Validate checks the fields aggregation depends on
func (t *Task) Validate() error {
	if err := taskValidator.Struct(t); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	return nil
}

// ExpectedCodes is the number of distinct codes a complete package shows:
// every product plus the package label.
func (t *Task) ExpectedCodes() int {
	return t.NumPacksInBox + 1
}
