package signal

import "github.com/justicehub-au/alma-engine/internal/model"

// authorityBase maps consent level to a community-standing starting point.
// Community-only consent outranks broader levels here: an entity that keeps
// its data inside the community is the strongest marker that the community
// itself stands behind it.
var authorityBase = map[model.ConsentLevel]float64{
	model.ConsentCommunityOnly: 0.5,
	model.ConsentAttributed:    0.4,
	model.ConsentFull:          0.35,
	model.ConsentAnonymousOnly: 0.2,
	model.ConsentNone:          0.1,
}

// CommunityAuthority scores community standing from the consent level, the
// cultural-authority flag, and the count of verified community contributors
// (saturating at 5).
func CommunityAuthority(in *model.SignalInputs) float64 {
	iv := in.Intervention

	v, ok := authorityBase[iv.ConsentLevel]
	if !ok {
		v = authorityBase[model.ConsentNone]
	}

	if iv.CulturalAuthority {
		v += 0.3
	}

	contrib := float64(iv.VerifiedContributors) / 5
	if contrib > 1 {
		contrib = 1
	}
	v += 0.2 * contrib

	return clamp01(v)
}
