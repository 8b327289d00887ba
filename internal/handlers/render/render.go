package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/logger"
)

const (
	ValidationErrorType = "validation_failed"
	DecodingErrorType   = "decoding_failed"
	ServiceErrorType    = "service_error"
	InternalErrorType   = "internal_error"
)

var validate = validator.New()

func init() {
	configureValidator(validate)
}

type Struct any

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Context map[string]any    `json:"context,omitempty"`
}

// Status and fixed message per error code
var appErrors = map[string]struct {
	status  int
	message string
}{
	"bad_filter":            {http.StatusBadRequest, "Invalid filter"},
	"bad_ordering":          {http.StatusBadRequest, "Invalid ordering"},
	"bad_schema":            {http.StatusUnprocessableEntity, "Invalid data"},
	"bad_create_data":       {http.StatusUnprocessableEntity, "Invalid data to create"},
	"not_found":             {http.StatusNotFound, "Not found"},
	"not_unique":            {http.StatusConflict, "More than one object found"},
	"conflict":              {http.StatusConflict, "Object already exists"},
	"user_already_exists":   {http.StatusConflict, "User already exists"},
	"token_parse_error":     {http.StatusUnauthorized, "Could not validate credentials"},
	"bad_token":             {http.StatusUnauthorized, "Could not validate credentials"},
	"bad_login_credentials": {http.StatusUnauthorized, "Incorrect username or password"},
	"permission_denied":     {http.StatusForbidden, "Not enough permissions"},
}

func JSON(w http.ResponseWriter, data any) {
	jsonWithStatus(w, data, http.StatusOK)
}

func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	jsonWithStatus(w, data, code)
}

// Render ServiceError
func ServiceError(w http.ResponseWriter, error string, code int) {
	response := ErrorResponse{
		Error:   ServiceErrorType,
		Message: error,
	}

	jsonWithStatus(w, response, code)
}

// Error renders application error by its code.
// Data access and unknown errors are logged and rendered as internal error without details.
func Error(w http.ResponseWriter, err error, log logger.Logger) {
	code := apperrors.Code(err)
	known, ok := appErrors[code]
	if !ok {
		log.Error("request failed", "error", err)
		jsonWithStatus(w, ErrorResponse{Error: InternalErrorType, Message: "Internal server error"}, http.StatusInternalServerError)
		return
	}

	response := ErrorResponse{Error: code, Message: known.message}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) && len(appErr.Context) > 0 {
		response.Context = appErr.Context
	}

	if known.status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}

	jsonWithStatus(w, response, known.status)
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, err error) {
	response := ErrorResponse{
		Error:   DecodingErrorType,
		Message: "",
	}

	// Try to provide more specific error message based on error type
	switch err := err.(type) {
	case *json.UnmarshalTypeError:
		response.Message = fmt.Sprintf("Invalid data type for field '%s'", err.Field)
	default:
		response.Message = fmt.Sprintf("Failed to parse JSON: %s", err.Error())
	}

	jsonWithStatus(w, response, http.StatusBadRequest)
}

// Render ValidationErrors
func ValidationErrors(w http.ResponseWriter, prefix string, errs validator.ValidationErrors) {
	response := ErrorResponse{
		Error:   ValidationErrorType,
		Message: "Request validation failed",
		Fields:  make(map[string]string, len(errs)),
	}

	// Create user-friendly error messages based on validation tag
	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "This field is required"
		case "min":
			message = fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
		case "username":
			message = "Username may contain only letters, digits, '_', '.' and '-'"
		case "password":
			message = "Password is too short"
		default:
			message = "Invalid value"
		}

		response.Fields[prefix+fieldError.Field()] = message
	}

	jsonWithStatus(w, response, http.StatusUnprocessableEntity)
}

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Returns the decoded value and writes appropriate error responses for decoding or validation failures.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil {
		DecodeError(w, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		// pretty sure cast will be ok cause expecting T is valid struct
		errs := err.(validator.ValidationErrors)
		ValidationErrors(w, "", errs)
		return value, err
	}

	return value, nil
}

// BindAndValidateList is BindAndValidate for JSON array body.
// Fields of invalid element are prefixed with its index: "[1].password".
func BindAndValidateList[T Struct](w http.ResponseWriter, r *http.Request) ([]T, error) {
	var values []T

	err := json.NewDecoder(r.Body).Decode(&values)
	if err != nil {
		DecodeError(w, err)
		return values, err
	}

	for i, value := range values {
		err = validate.Struct(value)
		if err != nil {
			errs := err.(validator.ValidationErrors)
			ValidationErrors(w, fmt.Sprintf("[%d].", i), errs)
			return values, err
		}
	}

	return values, nil
}

// renderJSONWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
