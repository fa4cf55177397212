package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"exovision/store"
)

// maxChatBytes bounds a chat message.
const maxChatBytes = 4000

var formValidate *validator.Validate

func init() {
	formValidate = validator.New(validator.WithRequiredStructEnabled())
	formValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"form", "json"} {
			if name := strings.Split(f.Tag.Get(tag), ",")[0]; name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	_ = formValidate.RegisterValidation("modelname", func(fl validator.FieldLevel) bool {
		return store.ValidName(fl.Field().String())
	})
	_ = formValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxChatBytes
	})
}

type manualRequest struct {
	Model string `json:"model" validate:"required,modelname"`
}

type csvForm struct {
	Model string `form:"model" validate:"required,modelname"`
}

type trainForm struct {
	ModelName string `form:"model_name" validate:"required,modelname"`
	Files     int    `form:"files" validate:"min=1"`
}

type chatRequest struct {
	Message string `json:"message" validate:"required,maxbytes"`
}

type historyQuery struct {
	Limit int `form:"limit" validate:"min=1,max=500"`
}

func validate(v any) error {
	err := formValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "modelname":
		return fe.Field() + ": " + store.ErrInvalidName.Error()
	case "maxbytes":
		return fmt.Sprintf("%s must be at most %d bytes", fe.Field(), maxChatBytes)
	case "min":
		if fe.Field() == "files" {
			return "at least one CSV file is required"
		}
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

// featureValues reads the named features from a decoded JSON object. Values
// may be JSON numbers or numeric strings. Absent or empty features are
// returned in missing; unparsable or non-finite ones in invalid.
func featureValues(body map[string]any, features []string) (vector []float64, missing, invalid []string) {
	vector = make([]float64, len(features))
	for i, name := range features {
		raw, ok := body[name]
		if !ok || raw == nil {
			missing = append(missing, name)
			continue
		}
		var (
			v   float64
			err error
		)
		switch value := raw.(type) {
		case json.Number:
			v, err = value.Float64()
		case string:
			if strings.TrimSpace(value) == "" {
				missing = append(missing, name)
				continue
			}
			v, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
		case float64:
			v = value
		default:
			err = fmt.Errorf("unsupported type %T", raw)
		}
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			invalid = append(invalid, name)
			continue
		}
		vector[i] = v
	}
	return vector, missing, invalid
}
