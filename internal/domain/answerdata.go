package domain

import (
	"encoding/json"
	"fmt"
)

// AnswerKind discriminates the answer_data_json variants.
type AnswerKind string

const (
	AnswerText     AnswerKind = "TEXT"
	AnswerDate     AnswerKind = "DATE"
	AnswerCurrency AnswerKind = "CURRENCY"
	AnswerSelect   AnswerKind = "SELECT"
)

// AnswerData is the discriminated answer payload. Exactly one of the variant
// field groups is meaningful, selected by Kind.
type AnswerData struct {
	Kind AnswerKind `json:"kind"`

	// TEXT
	Text string `json:"text,omitempty"`

	// DATE, ISO-8601 (yyyy-mm-dd)
	Date string `json:"date,omitempty"`

	// CURRENCY
	Amount       float64 `json:"amount,omitempty"`
	CurrencyCode string  `json:"currency_code,omitempty"`

	// SELECT
	OptionID    int64  `json:"option_id,omitempty"`
	OptionValue string `json:"option_value,omitempty"`
}

// Validate checks that the variant fields match the declared kind.
func (d AnswerData) Validate() error {
	switch d.Kind {
	case AnswerText:
		if d.Text == "" {
			return fmt.Errorf("%w: empty text answer", ErrInvalidArgument)
		}
	case AnswerDate:
		if d.Date == "" {
			return fmt.Errorf("%w: empty date answer", ErrInvalidArgument)
		}
	case AnswerCurrency:
		if d.CurrencyCode == "" {
			return fmt.Errorf("%w: currency answer without code", ErrInvalidArgument)
		}
	case AnswerSelect:
		if d.OptionID == 0 {
			return fmt.Errorf("%w: select answer without option", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown answer kind %q", ErrInvalidArgument, d.Kind)
	}
	return nil
}

// MarshalAnswerData serializes an AnswerData for the answer_data_json column.
func MarshalAnswerData(d AnswerData) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("op=answerdata.marshal: %w", err)
	}
	return string(b), nil
}

// UnmarshalAnswerData parses an answer_data_json column value.
func UnmarshalAnswerData(s string) (AnswerData, error) {
	var d AnswerData
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return AnswerData{}, fmt.Errorf("op=answerdata.unmarshal: %w", err)
	}
	if err := d.Validate(); err != nil {
		return AnswerData{}, err
	}
	return d, nil
}
