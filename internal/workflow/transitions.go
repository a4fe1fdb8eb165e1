package workflow

import "github.com/akmatori/autoheal/internal/database"

// transitions lists the statuses each status may move to.
// RESOLVED and FAILED have no entry and are therefore final.
var transitions = map[database.IncidentStatus][]database.IncidentStatus{
	database.IncidentStatusOpen: {
		database.IncidentStatusRCAInProgress,
		database.IncidentStatusFailed,
	},
	database.IncidentStatusRCAInProgress: {
		database.IncidentStatusPatchInProgress,
		database.IncidentStatusFailed,
	},
	database.IncidentStatusPatchInProgress: {
		database.IncidentStatusAwaitingApproval,
		database.IncidentStatusVerifyInProgress,
		database.IncidentStatusFailed,
	},
	database.IncidentStatusAwaitingApproval: {
		database.IncidentStatusVerifyInProgress,
		database.IncidentStatusResolved,
	},
	database.IncidentStatusVerifyInProgress: {
		database.IncidentStatusPRCreationInProgress,
		database.IncidentStatusFailed,
	},
	database.IncidentStatusPRCreationInProgress: {
		database.IncidentStatusResolved,
		database.IncidentStatusFailed,
	},
}

// CanTransition reports whether an incident may move from one status to another
func CanTransition(from, to database.IncidentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// resumable are the statuses a workflow goroutine owns; an incident found in one
// of them with no goroutine running was interrupted.
var resumable = []database.IncidentStatus{
	database.IncidentStatusOpen,
	database.IncidentStatusRCAInProgress,
	database.IncidentStatusPatchInProgress,
	database.IncidentStatusVerifyInProgress,
	database.IncidentStatusPRCreationInProgress,
}
