package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"safechat/internal/model"
)

// jsonName reports fields by their JSON name so messages match request bodies.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

// registerDomainTags derives the length limits from the model constants so
// the tags and the model never disagree.
func registerDomainTags(v *validator.Validate) {
	v.RegisterAlias("message_text", fmt.Sprintf("required,max=%d", model.MaxMessageLength))
	v.RegisterAlias("flag_description", fmt.Sprintf("max=%d", model.MaxFlagDescription))
	v.RegisterAlias("reviewer_notes", fmt.Sprintf("max=%d", model.MaxReviewerNotes))

	if err := v.RegisterValidation("visibility", func(fl validator.FieldLevel) bool {
		return model.Visibility(fl.Field().String()).Valid()
	}); err != nil {
		panic(err)
	}
}
