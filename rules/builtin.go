package rules

import "github.com/goliatone/go-taskhooks/core"

// BuiltIn assembles the enabled built-in rules in dispatch order.
func BuiltIn(tasks core.TaskService, cfg core.RulesConfig) []Rule {
	var list []Rule
	if cfg.RecurringClearComments {
		list = append(list, NewRecurringClearComments(tasks, cfg))
	}
	if cfg.RecurringPurgeSubtasks {
		list = append(list, NewRecurringPurgeSubtasks(tasks, cfg))
	}
	return list
}
