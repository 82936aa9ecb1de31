package expressions

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/triage/internal/store"
)

// SubmittedAtLayout renders {submission.submittedAt} the way en-US locale
// formatting does (e.g. "3/14/2026, 9:05:00 AM").
const SubmittedAtLayout = "1/2/2006, 3:04:05 PM"

// NotSet renders an unset priority.
const NotSet = "Not Set"

// placeholderRe matches {namespace.key}; keys may contain spaces so field
// labels can be referenced, but never braces.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\.([^{}]+)\}`)

// Interpolator substitutes {submission.*} and {field.*} placeholders in
// action text. Unknown placeholders are left verbatim; it never fails.
type Interpolator struct {
	loc *time.Location
}

// NewInterpolator creates an Interpolator rendering timestamps in loc
// (UTC when nil).
func NewInterpolator(loc *time.Location) *Interpolator {
	if loc == nil {
		loc = time.UTC
	}
	return &Interpolator{loc: loc}
}

// Variables returns the placeholder table for a submission, keyed as
// "submission.id", "field.<id>", "field.<label>". Field ids win over labels
// when both collide.
func (i *Interpolator) Variables(sub *store.Submission) map[string]string {
	vars := make(map[string]string, 4+2*len(sub.FieldValues))
	vars["submission.id"] = sub.ID
	vars["submission.status"] = string(sub.Status)
	if sub.Priority == "" {
		vars["submission.priority"] = NotSet
	} else {
		vars["submission.priority"] = string(sub.Priority)
	}
	vars["submission.submittedAt"] = sub.SubmittedAt.In(i.loc).Format(SubmittedAtLayout)

	for _, fv := range sub.FieldValues {
		if label := fv.Field.Label; label != "" {
			vars["field."+label] = DisplayText(fv)
		}
	}
	for _, fv := range sub.FieldValues {
		vars["field."+fv.FieldID] = DisplayText(fv)
	}
	return vars
}

// Interpolate renders text against sub.
func (i *Interpolator) Interpolate(text string, sub *store.Submission) string {
	if !strings.Contains(text, "{") {
		return text
	}
	vars := i.Variables(sub)
	return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		m := placeholderRe.FindStringSubmatch(token)
		if v, ok := vars[m[1]+"."+m[2]]; ok {
			return v
		}
		return token
	})
}

// DisplayText prefers the display value of a field and falls back to its
// raw value rendered as text.
func DisplayText(fv store.FieldValue) string {
	if fv.DisplayValue != "" {
		return fv.DisplayValue
	}
	return Stringify(fv.Value)
}

// Stringify renders a JSON-decoded value as plain text. Lists are joined
// with ", ", objects are JSON-encoded and nil renders empty.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(val, ", ")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
