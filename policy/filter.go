package policy

import (
	"strings"

	"github.com/goliatone/go-taskhooks/core"
)

// Decision is the result of evaluating one event against one policy snapshot.
type Decision struct {
	Allow  bool
	Reason string
}

const (
	ReasonGloballyDisabled = "globally_disabled"
	ReasonUserDenied       = "user_denied"
	ReasonProjectDenied    = "project_denied"
	ReasonUserNotAllowed   = "user_not_in_allowlist"
	ReasonProjectNotListed = "project_not_in_allowlist"
)

func allow() Decision {
	return Decision{Allow: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Filter holds an immutable policy snapshot. Evaluate is a pure function of
// (event, snapshot); deny-list membership always overrides allow-list
// membership.
type Filter struct {
	enabled         bool
	allowedUsers    map[string]struct{}
	deniedUsers     map[string]struct{}
	allowedProjects map[string]struct{}
	deniedProjects  map[string]struct{}
}

func NewFilter(cfg core.PolicyConfig) *Filter {
	return &Filter{
		enabled:         cfg.Enabled,
		allowedUsers:    toSet(cfg.AllowedUserIDs),
		deniedUsers:     toSet(cfg.DeniedUserIDs),
		allowedProjects: toSet(cfg.AllowedProjectIDs),
		deniedProjects:  toSet(cfg.DeniedProjectIDs),
	}
}

// Evaluate applies the deny-first ordering: global switch, user deny list,
// project deny list, then allow lists when configured.
func (f *Filter) Evaluate(event core.InboundEvent) Decision {
	if f == nil || !f.enabled {
		return deny(ReasonGloballyDisabled)
	}
	if _, denied := f.deniedUsers[event.UserID]; denied && event.UserID != "" {
		return deny(ReasonUserDenied)
	}
	if _, denied := f.deniedProjects[event.ProjectID]; denied && event.ProjectID != "" {
		return deny(ReasonProjectDenied)
	}
	if len(f.allowedUsers) > 0 {
		if _, ok := f.allowedUsers[event.UserID]; !ok {
			return deny(ReasonUserNotAllowed)
		}
	}
	if len(f.allowedProjects) > 0 {
		if _, ok := f.allowedProjects[event.ProjectID]; !ok {
			return deny(ReasonProjectNotListed)
		}
	}
	return allow()
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		set[trimmed] = struct{}{}
	}
	return set
}
