package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neonpush/elevenlabs-realtime-agent/internal/lead"
)

// DynamicVariables flattens a lead snapshot into the agent's template
// variables. The agent rejects conversations whose template references a key
// that is absent, so every key is always present and unknown data becomes the
// empty string, never a missing entry.
func DynamicVariables(l *lead.Lead) map[string]string {
	vars := map[string]string{
		"greeting":                "",
		"lead_name":               "",
		"budget":                  "",
		"move_in_date":            "",
		"income":                  "",
		"occupation":              "",
		"contract_length":         "",
		"missing_fields":          "",
		"property_address":        "",
		"property_postcode":       "",
		"property_bedrooms":       "",
		"property_available_from": "",
		"property_monthly_rent":   "",
	}
	if l == nil {
		return vars
	}

	if l.Name != "" {
		vars["greeting"] = fmt.Sprintf("Hi %s, thanks for your enquiry!", l.Name)
	} else {
		vars["greeting"] = "Hi, thanks for your enquiry!"
	}
	vars["lead_name"] = l.Name
	if l.Budget > 0 {
		vars["budget"] = strconv.Itoa(l.Budget)
	}
	vars["move_in_date"] = l.MoveInDate
	if l.Income > 0 {
		vars["income"] = strconv.Itoa(l.Income)
	}
	vars["occupation"] = l.Occupation
	vars["contract_length"] = l.ContractLength
	vars["missing_fields"] = strings.Join(l.MissingFields, ", ")

	if p := l.Property; p != nil {
		vars["property_address"] = p.Address
		vars["property_postcode"] = p.Postcode
		if p.Bedrooms > 0 {
			vars["property_bedrooms"] = strconv.Itoa(p.Bedrooms)
		}
		vars["property_available_from"] = p.AvailableFrom
		if p.MonthlyRent > 0 {
			vars["property_monthly_rent"] = strconv.Itoa(p.MonthlyRent)
		}
	}
	return vars
}
