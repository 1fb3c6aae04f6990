package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"gaiya/internal/types"
)

// Validator wraps go-playground/validator with the platform's custom rules
// and maps validation failures onto the error taxonomy. Handlers declare
// constraints as struct tags on their request DTOs and call ValidateStruct
// after decoding.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags:
//
//	otp_code        six ASCII digits
//	strong_password at least 8 chars with a letter and a digit
//	out_trade_no    generated order id shape
//	otp_purpose     "signup" or "password_reset"
//	gateway         a supported payment gateway
//	feature         a metered feature name
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// Report field names from json tags so error details match the wire names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "otp_code", func(fl validator.FieldLevel) bool {
		return types.IsOTPCode(fl.Field().String())
	})
	mustRegister(v, "strong_password", func(fl validator.FieldLevel) bool {
		return types.IsStrongPassword(fl.Field().String())
	})
	mustRegister(v, "out_trade_no", func(fl validator.FieldLevel) bool {
		return types.IsOutTradeNo(fl.Field().String())
	})
	mustRegister(v, "otp_purpose", func(fl validator.FieldLevel) bool {
		return types.OTPPurpose(fl.Field().String()).IsValid()
	})
	mustRegister(v, "gateway", func(fl validator.FieldLevel) bool {
		return types.PaymentGateway(fl.Field().String()).IsValid()
	})
	mustRegister(v, "feature", func(fl validator.FieldLevel) bool {
		return types.Feature(fl.Field().String()).IsValid()
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// mustRegister panics on registration failure. Registration only fails on
// programmer error (empty tag), so this surfaces at startup rather than
// silently skipping a rule.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("register validation " + tag + ": " + err.Error())
	}
}

// ValidateStruct validates a request DTO against its struct tags. On
// failure it returns a *types.AppError (400) describing the first failed
// field; the offending field name is carried in Details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		// InvalidValidationError (nil or non-struct input) is programmer error.
		v.logger.Error("validator invoked with invalid input", "error", err)
		return types.NewAppError(types.ErrCodeValidationInvalidArgument, "invalid request", err)
	}

	fe := verrs[0]
	code, message := mapFieldError(fe)
	return types.NewAppErrorWithDetails(code, message, nil, map[string]any{
		"field": fe.Field(),
	})
}

// mapFieldError translates a single field error into an error code and a
// client-safe message.
func mapFieldError(fe validator.FieldError) (types.ErrorCode, string) {
	switch fe.Tag() {
	case "required":
		return types.ErrCodeValidationMissingField, "missing required field: " + fe.Field()
	case "email":
		return types.ErrCodeValidationInvalidEmail, "invalid email address"
	case "strong_password":
		return types.ErrCodeValidationWeakPassword, "password must be at least 8 characters with a letter and a digit"
	case "otp_code":
		return types.ErrCodeValidationInvalidOTPCode, "verification code must be 6 digits"
	case "otp_purpose":
		return types.ErrCodeValidationInvalidArgument, "invalid verification purpose"
	case "gateway":
		return types.ErrCodeValidationInvalidGateway, "unsupported payment gateway"
	case "feature":
		return types.ErrCodeValidationInvalidFeature, "unknown feature"
	case "out_trade_no":
		return types.ErrCodeValidationInvalidArgument, "invalid order id"
	case "uuid", "uuid4":
		return types.ErrCodeValidationInvalidUUID, "invalid identifier format"
	case "timezone":
		return types.ErrCodeValidationInvalidArgument, "unknown time zone"
	case "gt", "gte", "min", "max":
		return types.ErrCodeValidationInvalidAmount, "value out of range for field: " + fe.Field()
	default:
		return types.ErrCodeValidationInvalidArgument, "invalid value for field: " + fe.Field()
	}
}
