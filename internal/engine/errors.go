package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IllegalTransitionError reports a state-machine precondition violation.
type IllegalTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e IllegalTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// ValidationFailedError carries the full finding list, never just "invalid".
type ValidationFailedError struct {
	Errors   []string
	Warnings []string
}

func (e ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// DuplicateRuleError reports a (scope, work category, document kind, trigger
// event) uniqueness violation.
type DuplicateRuleError struct {
	WorkCategory string
	DocumentKind string
	TriggerEvent string
}

func (e DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule for (%s, %s, %s) already exists in this scope", e.WorkCategory, e.DocumentKind, e.TriggerEvent)
}

// DuplicateAssignmentError reports that a role already has an assigned person.
type DuplicateAssignmentError struct {
	ProjectID string
	Role      string
}

func (e DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("role %s already assigned in project %s", e.Role, e.ProjectID)
}

// DuplicateItemError reports that a document is already part of a package.
type DuplicateItemError struct {
	PackageID  string
	DocumentID string
}

func (e DuplicateItemError) Error() string {
	return fmt.Sprintf("document %s is already in package %s", e.DocumentID, e.PackageID)
}

func validateJSON(in string) error {
	var tmp any
	return json.Unmarshal([]byte(in), &tmp)
}
