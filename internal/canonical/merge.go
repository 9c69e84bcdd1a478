package canonical

import (
	"github.com/drfirst/go-intake/internal/domain/profile"
)

// MergeIntoProfile folds a fragment into a copy of p and returns the copy.
//
// String sets and body parts are unioned, so merging the same fragment twice changes nothing.
// painIntensity is last-write-wins across forms. Demographic sub-fields overwrite their key and
// insurance objects replace the stored object wholesale. The form log is not touched here.
func MergeIntoProfile(p *profile.Profile, d MedicalData) *profile.Profile {
	out := p.Clone()
	if out.DynamicData == nil {
		out.DynamicData = map[string]interface{}{}
	}
	dd := out.DynamicData

	for key, values := range d.Lists() {
		if len(*values) == 0 {
			continue
		}
		dd[key] = addUnique(toStrings(dd[key]), *values...)
	}

	if len(d.BodyParts) > 0 {
		parts := toBodyParts(dd[profile.KeyBodyParts])
		for _, bp := range d.BodyParts {
			parts = addBodyPart(parts, bp)
		}
		dd[profile.KeyBodyParts] = parts
	}

	if d.PainIntensity != "" {
		dd[profile.KeyPainIntensity] = d.PainIntensity
	}

	for k, v := range d.Demographics {
		if profile.Reserved(k) {
			continue
		}
		dd[k] = v
	}

	if d.PrimaryInsurance != nil {
		dd[profile.KeyPrimaryInsurance] = copyMap(d.PrimaryInsurance)
	}
	if d.SecondaryInsurance != nil {
		dd[profile.KeySecondaryInsurance] = copyMap(d.SecondaryInsurance)
	}
	return out
}

// toStrings reads a stored set, which is []interface{} after a JSON round trip
func toStrings(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

func toBodyParts(v interface{}) []BodyPart {
	switch t := v.(type) {
	case []BodyPart:
		return append([]BodyPart(nil), t...)
	case []interface{}:
		out := make([]BodyPart, 0, len(t))
		for _, x := range t {
			m, ok := x.(map[string]interface{})
			if !ok {
				continue
			}
			part, _ := m["part"].(string)
			side, _ := m["side"].(string)
			if part != "" {
				out = addBodyPart(out, BodyPart{Part: part, Side: side})
			}
		}
		return out
	}
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BodyParts reads the stored body parts of a profile
func BodyParts(p *profile.Profile) []BodyPart {
	return toBodyParts(p.DynamicData[profile.KeyBodyParts])
}

// Strings reads a stored string set of a profile
func Strings(p *profile.Profile, key string) []string {
	return toStrings(p.DynamicData[key])
}
