package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"studysync/pkg/types"
)

// custom validation tags
const (
	sessionIDTag = "session_id"
	paletteTag   = "palette"
)

// SessionView is the slice of room state a validation needs. Both fields
// are immutable for the life of a room.
type SessionView struct {
	SessionID     string
	TeacherUserID string
}

// Validator checks inbound events before they may touch session state.
// It is safe for concurrent use once constructed.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func New() *Validator {
	validate := validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report json field names, not Go names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(sessionIDTag, func(fl validator.FieldLevel) bool {
		return types.IsValidSessionID(fl.Field().String())
	})
	_ = validate.RegisterValidation(paletteTag, func(fl validator.FieldLevel) bool {
		return types.IsPaletteColor(fl.Field().String())
	})

	registerMessage(validate, translator, sessionIDTag, "{0} must be 1-64 characters of letters, digits, '_' or '-'")
	registerMessage(validate, translator, paletteTag, "{0} must be one of "+strings.Join(types.HighlightPalette, ", "))

	return &Validator{validate: validate, translator: translator}
}

func registerMessage(validate *validator.Validate, translator ut.Translator, tag, text string) {
	_ = validate.RegisterTranslation(tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			msg, err := t.T(tag, fe.Field())
			if err != nil {
				return fe.Error()
			}
			return msg
		})
}

// Structural runs field-level checks only: presence, bounds, palette, and
// end >= start. It needs no room state, so the gateway may call it before
// doing I/O on behalf of an event.
func (v *Validator) Structural(ev types.Inbound) error {
	err := v.validate.Struct(ev)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fe.Translate(v.translator))
		}
		return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", types.ErrValidation, err)
}

// Validate admits ev from submitter into the room described by view, or
// returns the error to report back to the submitter alone. Checks run in
// order: target session, authorization for mutating events, then structure.
func (v *Validator) Validate(ev types.Inbound, submitter types.Identity, view SessionView) (types.Inbound, error) {
	if ev.TargetSession() != view.SessionID {
		return nil, fmt.Errorf("%w: event targets session %q but connection is joined to %q",
			types.ErrValidation, ev.TargetSession(), view.SessionID)
	}

	if types.IsMutating(ev.EventType()) {
		if err := submitter.Role.Authorize(submitter.UserID, view.TeacherUserID); err != nil {
			return nil, fmt.Errorf("%s: %w", ev.EventType(), err)
		}
	}

	if err := v.Structural(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
