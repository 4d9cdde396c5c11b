package persona

import (
	"strconv"
	"strings"

	"github.com/BaSui01/surveyflow/types"
)

// Enrich normalizes a raw persona record into a typed Persona. The service's
// field names drifted over time, so common aliases are accepted, nested
// family sub-records are flattened, and missing fields get typed defaults.
// Downstream code never performs key-existence checks.
func Enrich(raw map[string]any) types.Persona {
	p := types.Persona{
		ID:         pickInt(raw, "id", "persona_id", "uid"),
		Name:       pickString(raw, "name", "full_name", "display_name"),
		Age:        pickInt(raw, "age", "years_old"),
		Gender:     normalizeGender(pickString(raw, "gender", "sex")),
		Occupation: pickString(raw, "occupation", "job", "profession"),
		Education:  pickString(raw, "education", "education_level", "degree"),
		IncomeBand: normalizeIncome(pickString(raw, "income_band", "income", "income_level")),
		Residence:  pickString(raw, "residence", "city", "location"),
		Mood:       pickString(raw, "mood", "current_mood"),
		Activity:   pickString(raw, "activity", "current_activity"),
	}

	p.Interests = pickStrings(raw, "interests", "hobbies")
	p.Brands = pickStrings(raw, "brands", "brand_affinities", "favorite_brands")

	// Flatten a nested family record when present.
	if fam, ok := raw["family"].(map[string]any); ok {
		p.MaritalStat = pickString(fam, "marital_status", "status")
		p.FamilyRole = pickString(fam, "role")
		if children, ok := fam["children"].([]any); ok {
			p.ChildCount = len(children)
		} else {
			p.ChildCount = pickInt(fam, "child_count", "children")
		}
	} else {
		p.MaritalStat = pickString(raw, "marital_status")
		p.FamilyRole = pickString(raw, "family_role")
		p.ChildCount = pickInt(raw, "child_count")
	}

	// Typed defaults for anything still missing.
	if p.Name == "" {
		p.Name = "persona-" + strconv.Itoa(p.ID)
	}
	if p.Age == 0 {
		p.Age = 30
	}
	if p.Gender == "" {
		p.Gender = "female"
	}
	if p.Occupation == "" {
		p.Occupation = "office worker"
	}
	if p.Education == "" {
		p.Education = "bachelor"
	}
	if p.IncomeBand == "" {
		p.IncomeBand = "middle"
	}
	if p.MaritalStat == "" {
		p.MaritalStat = "single"
	}
	return p
}

func pickString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func pickInt(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

func pickStrings(raw map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case []string:
			if len(v) > 0 {
				return append([]string(nil), v...)
			}
		case string:
			if v != "" {
				parts := strings.Split(v, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				return parts
			}
		}
	}
	return nil
}

func normalizeGender(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "m", "male", "man", "男":
		return "male"
	case "f", "female", "woman", "女":
		return "female"
	default:
		return ""
	}
}

func normalizeIncome(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low", "lower", "低":
		return "low"
	case "middle", "medium", "mid", "中":
		return "middle"
	case "high", "upper", "高":
		return "high"
	default:
		return ""
	}
}
