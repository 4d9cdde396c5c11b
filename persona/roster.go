package persona

import (
	"strings"

	"github.com/BaSui01/surveyflow/types"
)

// builtinRoster is the deterministic fallback used when the persona service
// is unavailable. It is sized and spread so any expected cohort can be
// recruited from it: both genders, ages 19 through 67, white-collar and
// blue-collar occupations, and all three income bands.
var builtinRoster = []types.Persona{
	{ID: 1001, Name: "林晓雨", Age: 24, Gender: "female", Occupation: "designer", Education: "bachelor", IncomeBand: "middle", Residence: "Shanghai", Interests: []string{"photography", "travel"}, Brands: []string{"MUJI", "Uniqlo"}, MaritalStat: "single"},
	{ID: 1002, Name: "王建国", Age: 52, Gender: "male", Occupation: "factory supervisor", Education: "high_school", IncomeBand: "middle", Residence: "Shenyang", Interests: []string{"fishing", "chess"}, MaritalStat: "married", ChildCount: 1},
	{ID: 1003, Name: "张婷", Age: 31, Gender: "female", Occupation: "accountant", Education: "bachelor", IncomeBand: "middle", Residence: "Hangzhou", Interests: []string{"yoga", "baking"}, MaritalStat: "married", ChildCount: 1, FamilyRole: "mother"},
	{ID: 1004, Name: "李强", Age: 27, Gender: "male", Occupation: "software engineer", Education: "master", IncomeBand: "high", Residence: "Shenzhen", Interests: []string{"gaming", "basketball"}, Brands: []string{"Xiaomi", "Nike"}, MaritalStat: "single"},
	{ID: 1005, Name: "陈秀兰", Age: 63, Gender: "female", Occupation: "retired teacher", Education: "college", IncomeBand: "low", Residence: "Chengdu", Interests: []string{"square dancing", "gardening"}, MaritalStat: "married", ChildCount: 2},
	{ID: 1006, Name: "赵明", Age: 45, Gender: "male", Occupation: "sales manager", Education: "bachelor", IncomeBand: "high", Residence: "Beijing", Interests: []string{"golf", "wine"}, Brands: []string{"Huawei", "BMW"}, MaritalStat: "married", ChildCount: 2},
	{ID: 1007, Name: "刘芳", Age: 22, Gender: "female", Occupation: "university student", Education: "bachelor", IncomeBand: "low", Residence: "Wuhan", Interests: []string{"k-pop", "short video"}, Brands: []string{"Perfect Diary"}, MaritalStat: "single"},
	{ID: 1008, Name: "孙德胜", Age: 67, Gender: "male", Occupation: "retired worker", Education: "middle_school", IncomeBand: "low", Residence: "Harbin", Interests: []string{"tai chi", "news"}, MaritalStat: "married", ChildCount: 3},
	{ID: 1009, Name: "周雅", Age: 35, Gender: "female", Occupation: "marketing specialist", Education: "bachelor", IncomeBand: "middle", Residence: "Nanjing", Interests: []string{"fitness", "skincare"}, MaritalStat: "married", FamilyRole: "mother", ChildCount: 1},
	{ID: 1010, Name: "吴涛", Age: 38, Gender: "male", Occupation: "delivery driver", Education: "high_school", IncomeBand: "low", Residence: "Zhengzhou", Interests: []string{"live streaming"}, MaritalStat: "married", ChildCount: 2},
	{ID: 1011, Name: "郑洁", Age: 29, Gender: "female", Occupation: "nurse", Education: "college", IncomeBand: "middle", Residence: "Xi'an", Interests: []string{"reading", "hiking"}, MaritalStat: "single"},
	{ID: 1012, Name: "冯志远", Age: 41, Gender: "male", Occupation: "civil servant", Education: "master", IncomeBand: "middle", Residence: "Jinan", Interests: []string{"calligraphy", "running"}, MaritalStat: "married", ChildCount: 1},
	{ID: 1013, Name: "韩梅", Age: 19, Gender: "female", Occupation: "barista", Education: "high_school", IncomeBand: "low", Residence: "Changsha", Interests: []string{"anime", "milk tea"}, MaritalStat: "single"},
	{ID: 1014, Name: "Guo Wei", Age: 33, Gender: "male", Occupation: "product manager", Education: "bachelor", IncomeBand: "high", Residence: "Guangzhou", Interests: []string{"podcasts", "cycling"}, Brands: []string{"Apple"}, MaritalStat: "married"},
	{ID: 1015, Name: "Qin Lan", Age: 48, Gender: "female", Occupation: "restaurant owner", Education: "high_school", IncomeBand: "middle", Residence: "Chongqing", Interests: []string{"cooking", "mahjong"}, MaritalStat: "married", ChildCount: 2},
	{ID: 1016, Name: "Du Peng", Age: 26, Gender: "male", Occupation: "fitness coach", Education: "college", IncomeBand: "middle", Residence: "Qingdao", Interests: []string{"bodybuilding", "nutrition"}, MaritalStat: "single"},
}

// Roster returns a deep copy of the built-in roster.
func Roster() []types.Persona {
	out := make([]types.Persona, len(builtinRoster))
	for i, p := range builtinRoster {
		out[i] = p.Clone()
	}
	return out
}

// rosterQuery filters the roster by selector keywords, topping up with
// unmatched entries to reach count. Unknown selectors degrade to a diverse
// sample rather than an empty cohort.
func rosterQuery(selector string, count int) []types.Persona {
	roster := Roster()
	lower := strings.ToLower(selector)

	matched := make([]types.Persona, 0, count)
	rest := make([]types.Persona, 0, len(roster))
	for _, p := range roster {
		if selectorMatches(lower, p) {
			matched = append(matched, p)
		} else {
			rest = append(rest, p)
		}
	}
	matched = append(matched, rest...)
	if len(matched) > count {
		matched = matched[:count]
	}
	return matched
}

// rosterDiverse returns up to count personas spread across the roster.
func rosterDiverse(count int) []types.Persona {
	roster := Roster()
	if count > len(roster) {
		count = len(roster)
	}
	if count <= 0 {
		return nil
	}
	// Stride through the roster so consecutive picks differ in age and gender.
	step := len(roster) / count
	if step < 1 {
		step = 1
	}
	out := make([]types.Persona, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, roster[(i*step)%len(roster)])
	}
	return out
}

// selectorMatches applies the selector keyword vocabulary to one persona.
func selectorMatches(selector string, p types.Persona) bool {
	if selector == "" || selector == "diverse" {
		return true
	}

	ok := true
	has := func(kw string) bool { return strings.Contains(selector, kw) }

	switch {
	case has("young"):
		ok = ok && p.Age <= 30
	case has("middle-aged"):
		ok = ok && p.Age > 30 && p.Age < 50
	case has("senior"), has("retired"), has("elderly"):
		ok = ok && p.Age >= 50
	}

	if has("female") {
		ok = ok && p.Gender == "female"
	} else if has("male") {
		ok = ok && p.Gender == "male"
	}

	if has("white-collar") {
		ok = ok && isWhiteCollar(p.Occupation)
	}
	if has("blue-collar") {
		ok = ok && !isWhiteCollar(p.Occupation)
	}
	if has("student") {
		ok = ok && strings.Contains(p.Occupation, "student")
	}

	switch {
	case has("low-income"):
		ok = ok && p.IncomeBand == "low"
	case has("high-income"):
		ok = ok && p.IncomeBand == "high"
	case has("middle-income"):
		ok = ok && p.IncomeBand == "middle"
	}

	return ok
}

var whiteCollarOccupations = []string{
	"designer", "accountant", "engineer", "manager", "specialist",
	"civil servant", "teacher", "nurse", "analyst",
}

func isWhiteCollar(occupation string) bool {
	lower := strings.ToLower(occupation)
	for _, w := range whiteCollarOccupations {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// DiverseSelectors is the selector set scout recruiting cycles through so a
// small cohort still spans the demographic space.
var DiverseSelectors = []string{
	"young female white-collar",
	"middle-aged male",
	"young male",
	"senior female low-income",
	"middle-aged female middle-income",
	"retired male",
}
