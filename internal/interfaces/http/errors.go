package http

import (
	"errors"
	"net/http"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// errorKind maps an engine error kind to a status and a stable code
type errorKind struct {
	err    error
	status int
	code   string
}

// errorKinds is ordered: ErrAlreadyProcessed must match before ErrIllegalTransition
var errorKinds = []errorKind{
	{workflow.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{workflow.ErrNotFound, http.StatusNotFound, "not_found"},
	{workflow.ErrTemplateNotFound, http.StatusNotFound, "template_not_found"},
	{workflow.ErrDuplicateActiveInstance, http.StatusConflict, "duplicate_active_instance"},
	{workflow.ErrAlreadyProcessed, http.StatusConflict, "already_processed"},
	{workflow.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{workflow.ErrInstanceNotCancellable, http.StatusConflict, "instance_not_cancellable"},
	{workflow.ErrTemplateNotResolvable, http.StatusUnprocessableEntity, "template_not_resolvable"},
	{workflow.ErrInvalidTemplate, http.StatusUnprocessableEntity, "invalid_template"},
	{workflow.ErrAssigneeNotResolvable, http.StatusUnprocessableEntity, "assignee_not_resolvable"},
	{workflow.ErrStorage, http.StatusInternalServerError, "storage_error"},
}

// classify returns the HTTP status and code for err
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}
