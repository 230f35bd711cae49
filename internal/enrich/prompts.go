package enrich

import (
	"fmt"
	"strconv"
	"strings"

	"example.com/personaldata/internal/domain"
)

const goalSuffix = "_goal"

func nutrientList(nutrients []domain.Nutrient) string {
	var b strings.Builder
	for _, n := range nutrients {
		fmt.Fprintf(&b, "- %s (%s): key %q\n", n.Name, n.Unit, n.Code)
	}
	return b.String()
}

// foodPrompt asks for per-entry nutrient amounts as a JSON array keyed by nutrient code.
func foodPrompt(nutrients []domain.Nutrient, entries []domain.FoodLogEntry) string {
	var rows strings.Builder
	rows.WriteString("fatsecret_food_entry_id,date,food_name,calories,quantity\n")
	for _, e := range entries {
		fmt.Fprintf(&rows, "%d,%s,%q,%s,%s\n", e.FoodEntryID, e.Date.Format("2006-01-02"), e.FoodName, optional(e.Calories), optional(e.Quantity))
	}

	example := "[\n  {\"fatsecret_food_entry_id\": 123"
	for i, n := range nutrients {
		if i == 2 {
			break
		}
		example += fmt.Sprintf(", %q: 1.5", n.Code)
	}
	example += "}\n]"

	return fmt.Sprintf(`Analyze the following food log and estimate the intake of these nutrients for every entry:
%s
Use general nutritional knowledge and make reasonable approximations for local products.
Assume average homemade recipes where needed.

Output ONLY a JSON array with one object per food entry, exactly in this format:
%s

Use the keys listed above. DO NOT include any additional text, explanations, or code block delimiters.

Food log:
%s`, nutrientList(nutrients), example, rows.String())
}

// goalsPrompt asks for daily targets keyed by nutrient code plus goalSuffix.
func goalsPrompt(nutrients []domain.Nutrient, profile domain.UserProfile, known bool) string {
	var keys strings.Builder
	for i, n := range nutrients {
		if i > 0 {
			keys.WriteString(", ")
		}
		fmt.Fprintf(&keys, "%q: 0.0", n.Code+goalSuffix)
	}

	return fmt.Sprintf(`You are a nutrition expert. Based on the user's demographic information, calculate their daily recommended intake for the following nutrients:
%s
Use the following guidelines:
- Follow RDA (Recommended Dietary Allowance) and AI (Adequate Intake) values from the National Academy of Medicine
- Adjust for age, gender, pregnancy status, and activity level
- Use moderate activity level as baseline unless specified otherwise
- For missing demographic data, use conservative estimates for a healthy adult

Output ONLY a JSON object, exactly in this format:
{%s}

DO NOT include any additional text, explanations, or code block delimiters.
%s`, nutrientList(nutrients), keys.String(), profileSection(profile, known))
}

func profileSection(p domain.UserProfile, known bool) string {
	if !known {
		return "\nUser demographic information not available. Use conservative estimates for a healthy adult.\n"
	}
	var details []string
	if p.Gender != "" {
		details = append(details, "Gender: "+p.Gender)
	}
	if p.Age != nil {
		details = append(details, fmt.Sprintf("Age: %d years", *p.Age))
	}
	if p.WeightKg != nil {
		details = append(details, "Weight: "+strconv.FormatFloat(*p.WeightKg, 'f', -1, 64)+" kg")
	}
	if p.HeightCm != nil {
		details = append(details, "Height: "+strconv.FormatFloat(*p.HeightCm, 'f', -1, 64)+" cm")
	}
	if p.ActivityLevel != "" {
		details = append(details, "Activity Level: "+p.ActivityLevel)
	}
	if p.PregnancyStatus != "" {
		details = append(details, "Pregnancy Status: "+p.PregnancyStatus)
	}
	return "\nUser Demographic Information:\n" + strings.Join(details, "\n") + "\n\nPlease calculate daily recommended intake based on these factors.\n"
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
