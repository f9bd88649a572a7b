package storage

// OpenID claim groups and the profile fields each one releases.
var claimGroups = []struct {
	name   string
	fields []string
}{
	{"profile", []string{
		"name", "family_name", "given_name", "middle_name", "nickname",
		"preferred_username", "profile", "picture", "website", "gender",
		"birthdate", "zoneinfo", "locale", "updated_at",
	}},
	{"email", []string{"email", "email_verified"}},
	{"address", []string{"formatted", "street_address", "locality", "region", "postal_code", "country"}},
	{"phone", []string{"phone_number", "phone_number_verified"}},
}

// selectClaims returns the fields of the requested groups, nil for the ones
// the profile lacks. address is returned as a nested object.
func selectClaims(profile Profile, requested string) map[string]any {
	want := splitSet(requested)
	out := map[string]any{}
	for _, group := range claimGroups {
		if !contains(want, group.name) {
			continue
		}
		if group.name == "address" {
			src := profile
			if nested, ok := profile["address"].(map[string]any); ok && len(nested) > 0 {
				src = nested
			}
			out["address"] = pick(src, group.fields)
			continue
		}
		for k, v := range pick(profile, group.fields) {
			out[k] = v
		}
	}
	return out
}

func pick(src map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = src[f]
	}
	return out
}
