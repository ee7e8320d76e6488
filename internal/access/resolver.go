// Package access answers "is feature F enabled for user U" as a pure
// function of the flag config and the user. No side effects; safe to call
// on every request.
package access

import (
	"hash/fnv"
	"strings"

	"github.com/classpilot/aihub-go/internal/domain"
)

// Denial reasons. Each carries a hide-from-UI decision: some denials hide
// the feature silently (cohort gating), others show an explanatory state
// (authentication).
const (
	ReasonGlobalDisabled  = "ai_globally_disabled"
	ReasonFeatureDisabled = "feature_disabled"
	ReasonUnauthenticated = "not_authenticated"
	ReasonRoleDenied      = "role_not_allowed"
	ReasonNotInCohort     = "not_in_rollout_cohort"
	ReasonNotBetaUser     = "not_in_beta_list"
	ReasonNotInternal     = "not_internal_user"
	ReasonStrategyOff     = "rollout_disabled"
)

var hiddenReasons = map[string]bool{
	ReasonGlobalDisabled:  true,
	ReasonFeatureDisabled: true,
	ReasonRoleDenied:      true,
	ReasonNotInCohort:     true,
	ReasonNotBetaUser:     true,
	ReasonNotInternal:     true,
	ReasonStrategyOff:     true,
	// ReasonUnauthenticated stays visible: the UI shows a sign-in prompt.
}

// Resolver evaluates feature gates. GlobalEnabled is the process-wide kill
// switch; SuperAdminRole always passes role checks.
type Resolver struct {
	GlobalEnabled  bool
	SuperAdminRole string
}

// CheckRoleAccess reports whether role may use a feature restricted to
// allowedRoles. An empty allow-list means no role restriction.
func (r Resolver) CheckRoleAccess(role string, allowedRoles []string) bool {
	if role == r.SuperAdminRole {
		return true
	}
	if len(allowedRoles) == 0 {
		return true
	}
	for _, a := range allowedRoles {
		if a == role {
			return true
		}
	}
	return false
}

// CheckPercentageRollout buckets userID deterministically for featureID.
// The same user always lands in the same bucket for a given feature, so
// cohort membership never flickers across sessions.
func CheckPercentageRollout(userID, featureID string, pct int) bool {
	if pct >= 100 {
		return true
	}
	if pct <= 0 {
		return false
	}
	return bucket(userID, featureID) < uint32(pct)
}

// bucket hashes "userID:featureID" into [0,100).
func bucket(userID, featureID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(featureID))
	return h.Sum32() % 100
}

// CheckFeatureAccess runs the ordered gate chain; the first failing gate
// determines the denial reason.
func (r Resolver) CheckFeatureAccess(flag domain.FeatureFlagConfig, user *domain.User) domain.AccessDecision {
	if !r.GlobalEnabled {
		return deny(ReasonGlobalDisabled)
	}
	if !flag.Enabled || flag.Mode == domain.ModeDisabled {
		d := deny(ReasonFeatureDisabled)
		d.HideFromUI = !flag.ShowInUI || d.HideFromUI
		return d
	}
	if user == nil || user.ID == "" {
		return deny(ReasonUnauthenticated)
	}
	if !r.CheckRoleAccess(user.Role, flag.AllowedRoles) {
		return deny(ReasonRoleDenied)
	}

	if user.Role == r.SuperAdminRole {
		return domain.AccessDecision{Allowed: true}
	}

	switch flag.Strategy {
	case domain.StrategyFull:
		return domain.AccessDecision{Allowed: true}

	case domain.StrategyPercentage:
		if CheckPercentageRollout(user.ID, flag.FeatureID, flag.RolloutPercentage) {
			return domain.AccessDecision{Allowed: true}
		}
		return deny(ReasonNotInCohort)

	case domain.StrategyBetaUsers:
		for _, id := range flag.BetaUserIDs {
			if id == user.ID {
				return domain.AccessDecision{Allowed: true}
			}
		}
		return deny(ReasonNotBetaUser)

	case domain.StrategyInternal:
		if emailDomainIn(user.Email, flag.InternalDomains) {
			return domain.AccessDecision{Allowed: true}
		}
		return deny(ReasonNotInternal)

	case domain.StrategyRoleBased:
		// The role gate above already passed; role-based strategy adds no
		// further restriction beyond a non-empty allow-list.
		if len(flag.AllowedRoles) > 0 {
			return domain.AccessDecision{Allowed: true}
		}
		return deny(ReasonRoleDenied)

	default: // StrategyDisabled and anything unknown
		return deny(ReasonStrategyOff)
	}
}

func deny(reason string) domain.AccessDecision {
	return domain.AccessDecision{
		Allowed:    false,
		Reason:     reason,
		HideFromUI: hiddenReasons[reason],
	}
}

func emailDomainIn(email string, domains []string) bool {
	_, dom, ok := strings.Cut(email, "@")
	if !ok {
		return false
	}
	dom = strings.ToLower(dom)
	for _, d := range domains {
		if strings.ToLower(d) == dom {
			return true
		}
	}
	return false
}
