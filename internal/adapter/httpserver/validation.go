package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/latticehq/lattice/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON parses and validates a request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed json: %v", domain.ErrInvalidArgument, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if ok := AsValidationErrors(err, &verrs); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: validation failed: %s", domain.ErrInvalidArgument, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// AsValidationErrors unwraps validator.ValidationErrors.
func AsValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}

type createMatrixRequest struct {
	WorkspaceID int64  `json:"workspace_id" validate:"required,gt=0"`
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	MatrixType  string `json:"matrix_type" validate:"required,oneof=STANDARD CORRELATION"`
}

type createEntitySetRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	EntityType string `json:"entity_type" validate:"required,oneof=DOCUMENT QUESTION"`
}

type addMembersRequest struct {
	EntityIDs  []int64 `json:"entity_ids" validate:"required,min=1,dive,gt=0"`
	EntityType string  `json:"entity_type" validate:"required,oneof=DOCUMENT QUESTION"`
	Expand     bool    `json:"expand"`
}

type reprocessRequest struct {
	WholeMatrix bool              `json:"whole_matrix"`
	CellIDs     []int64           `json:"cell_ids" validate:"dive,gt=0"`
	Filters     []reprocessFilter `json:"entity_set_filters" validate:"dive"`
}

type reprocessFilter struct {
	EntitySetID int64   `json:"entity_set_id" validate:"required,gt=0"`
	EntityIDs   []int64 `json:"entity_ids" validate:"required,min=1,dive,gt=0"`
	Role        string  `json:"role" validate:"required,oneof=DOCUMENT QUESTION LEFT RIGHT"`
}

type updateQuestionRequest struct {
	Text string `json:"text" validate:"required,max=10000"`
}
