package server

import (
	"fmt"
	"strings"

	"github.com/BranchIntl/relayq/errors"
	"github.com/xeipuuv/gojsonschema"
)

const videoProcessSchema = `{
	"type": "object",
	"properties": {
		"videoURL": {"type": "string", "minLength": 1}
	},
	"required": ["videoURL"]
}`

var videoProcessLoader = gojsonschema.NewStringLoader(videoProcessSchema)

// validateVideoProcess checks a POST /video-process body against its schema
func validateVideoProcess(body []byte) error {
	doc := strings.TrimSpace(string(body))
	if doc == "" {
		doc = "null"
	}

	res, err := gojsonschema.Validate(videoProcessLoader, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return errors.NewValidationError(errors.ValidationDetail{
			Field:   "body",
			Message: fmt.Sprintf("invalid JSON: %v", err),
		})
	}
	if res.Valid() {
		return nil
	}

	details := make([]errors.ValidationDetail, 0, len(res.Errors()))
	for _, item := range res.Errors() {
		field := item.Field()
		if item.Type() == "required" {
			if p, ok := item.Details()["property"].(string); ok {
				field = p
			}
		}
		details = append(details, errors.ValidationDetail{
			Field:   field,
			Message: item.Description(),
			Value:   item.Value(),
		})
	}
	return errors.NewValidationError(details...)
}
