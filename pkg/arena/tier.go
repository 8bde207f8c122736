package arena

// SkillTier parameterizes synthetic participants: how much they write and how many
// realistic mistakes the generation service is asked to leave in.
type SkillTier struct {
	Name         string
	TargetWords  int
	ErrorDensity string
	Temperature  float32
}

var skillTiers = map[string]SkillTier{
	"novice":       {Name: "novice", TargetWords: 90, ErrorDensity: "frequent spelling and grammar slips, loose structure", Temperature: 1.0},
	"intermediate": {Name: "intermediate", TargetWords: 160, ErrorDensity: "occasional grammar slips, mostly clear structure", Temperature: 0.9},
	"advanced":     {Name: "advanced", TargetWords: 240, ErrorDensity: "rare minor errors, deliberate structure", Temperature: 0.8},
}

// DefaultSkillTier is used for synthetic seats with no or an unknown tier.
const DefaultSkillTier = "intermediate"

// LookupSkillTier returns the tier parameters, falling back to DefaultSkillTier.
func LookupSkillTier(name string) SkillTier {
	if t, ok := skillTiers[name]; ok {
		return t
	}
	return skillTiers[DefaultSkillTier]
}

// ValidSkillTier reports whether name is a known tier.
func ValidSkillTier(name string) bool {
	_, ok := skillTiers[name]
	return ok
}
