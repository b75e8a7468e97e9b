// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"errors"
	"fmt"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// ValidationError marks malformed client input inside the disambiguation
// protocol (bad reply format, out-of-range selection). It is a conversation
// event, not a system failure: handlers turn it into a clarification prompt.
type ValidationError struct {
	Reason  string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Message)
}

// IsValidationError checks if an error is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExternalServiceError wraps a parser or matcher failure. Callers degrade to
// "no fields extracted" / "no match" and keep the conversation moving.
type ExternalServiceError struct {
	Service string
	Err     error
}

// Error implements the error interface for ExternalServiceError.
func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsExternalServiceError checks if an error is a *ExternalServiceError.
func IsExternalServiceError(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}

// PersistenceError marks a store write that still failed after the bounded
// retry loop. The turn fails with a generic reply and no partial state.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface for PersistenceError.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError checks if an error is a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// StateTransitionError marks an attempted transition outside the allowed
// table. This is a programming or configuration defect: it is logged loudly
// and the conversation falls back to followup_sent rather than crashing.
type StateTransitionError struct {
	From datatypes.ConversationStep
	To   datatypes.ConversationStep
}

// Error implements the error interface for StateTransitionError.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("illegal conversation transition %s -> %s", e.From, e.To)
}

// IsStateTransitionError checks if an error is a *StateTransitionError.
func IsStateTransitionError(err error) bool {
	var se *StateTransitionError
	return errors.As(err, &se)
}
