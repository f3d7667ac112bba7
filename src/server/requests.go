package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ImageReq is the request body for the chat classification route.
type ImageReq struct {
	ImageURL string `json:"image_url" validate:"required,web_url"`
}

// QwenVLReq is the request body for the model endpoint route. RequestInfo
// carries the caller's correlation ids (uid, image_id, model).
type QwenVLReq struct {
	ImageURL    string                 `json:"image_url" validate:"required,web_url"`
	RequestInfo map[string]interface{} `json:"request_info"`
}

// AgeClassificationRes is returned by /classify-age.
type AgeClassificationRes struct {
	Result      string      `json:"result"`
	RawResponse RawResponse `json:"raw_response"`
}

type RawResponse struct {
	Content        string `json:"content"`
	CleanedContent string `json:"cleaned_content"`
}

// QwenVLRes is returned by /models/qwen-vl for both outcomes.
type QwenVLRes struct {
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
	ErrMessage  string `json:"err_message,omitempty"`
}

type HealthRes struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
}

type QueueRes struct {
	Pending []string `json:"queue_pending"`
	Running []string `json:"queue_running"`
}

var errMalformedBody = errors.New("JSON body missing or malformed")

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.RegisterValidation("web_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register url validation: %w", err)
	}

	return v, nil
}

// decodeBody reads a JSON body into dst and validates it. The returned code
// is 400 for unreadable JSON and 422 for field validation failures.
func decodeBody(ctx appContext, r *http.Request, dst interface{}) (int, error) {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return http.StatusBadRequest, errMalformedBody
	}

	if err := ctx.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return http.StatusUnprocessableEntity, validationError(verrs)
		}
		return http.StatusBadRequest, err
	}

	return 0, nil
}

func validationError(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "web_url":
			msgs = append(msgs, fmt.Sprintf("%s must be an http or https URL", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
