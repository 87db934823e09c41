package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	formPrefix   = "form"
	maxFormRows  = 1000
	maxBodyBytes = 1 << 20

	// maxQuantity matches the max rule on Row.Quantity.
	maxQuantity = 1000
)

var errManagementForm = errors.New("ManagementForm data is missing or has been tampered with")

// Row is one submitted line of the cart formset.
type Row struct {
	ID       int64 `json:"id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"required_if=Delete false,omitempty,min=1,max=1000"`
	Delete   bool  `json:"delete"`
}

type formsetRequest struct {
	Items []Row `json:"items"`
}

// rowErrors is keyed by the form field name, e.g. form-0-quantity.
type rowErrors map[string]string

func fieldName(index int, field string) string {
	return fmt.Sprintf("%s-%d-%s", formPrefix, index, field)
}

// parseFormset reads the rows either from a JSON body or from the url-encoded
// management form. Values that cannot be parsed are reported in rowErrors.
func parseFormset(w http.ResponseWriter, r *http.Request) ([]Row, rowErrors, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req formsetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, nil, err
		}
		if len(req.Items) > maxFormRows {
			return nil, nil, errManagementForm
		}
		return req.Items, rowErrors{}, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, nil, err
	}

	total, err := strconv.Atoi(r.PostForm.Get(formPrefix + "-TOTAL_FORMS"))
	if err != nil || total < 0 || total > maxFormRows {
		return nil, nil, errManagementForm
	}

	rows := make([]Row, 0, total)
	errs := rowErrors{}
	for i := 0; i < total; i++ {
		row := Row{Delete: checked(r.PostForm.Get(fieldName(i, "DELETE")))}

		if raw := strings.TrimSpace(r.PostForm.Get(fieldName(i, "id"))); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				errs[fieldName(i, "id")] = "Select a valid choice. That choice is not one of the available choices."
			}
			row.ID = id
		}

		if raw := strings.TrimSpace(r.PostForm.Get(fieldName(i, "quantity"))); raw != "" {
			qty, err := strconv.Atoi(raw)
			if err != nil && !row.Delete {
				errs[fieldName(i, "quantity")] = "Enter a whole number."
			}
			row.Quantity = qty
		}

		rows = append(rows, row)
	}

	return rows, errs, nil
}

func checked(v string) bool {
	switch strings.ToLower(v) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// validateRows checks every row against its field rules and against the
// items currently in the cart. Errors already present in errs win. The
// quantity of a row marked for deletion is ignored.
func validateRows(v *validator.Validate, rows []Row, inCart map[int64]bool, errs rowErrors) {
	seen := make(map[int64]int, len(rows))

	for i, row := range rows {
		fields := row
		if row.Delete {
			fields.Quantity = 0
		}
		if err := v.Struct(fields); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					name := fieldName(i, fe.Field())
					if _, exists := errs[name]; !exists {
						errs[name] = describe(fe)
					}
				}
			}
		}

		if row.ID == 0 {
			continue
		}

		idField := fieldName(i, "id")
		if _, exists := errs[idField]; exists {
			continue
		}
		if !inCart[row.ID] {
			errs[idField] = "Select a valid choice. That choice is not one of the available choices."
			continue
		}
		if first, dup := seen[row.ID]; dup {
			errs[idField] = fmt.Sprintf("Please correct the duplicate data for id, which must be unique (see %s).", fieldName(first, "id"))
			continue
		}
		seen[row.ID] = i
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "This field is required."
	case "gt":
		return "Select a valid choice. That choice is not one of the available choices."
	case "min":
		return "Ensure this value is greater than or equal to " + fe.Param() + "."
	case "max":
		return "Ensure this value is less than or equal to " + fe.Param() + "."
	default:
		return "Invalid value."
	}
}
