// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for security-critical
// identifiers.
//
// Session, user, and business IDs arrive from external callers and are
// concatenated into database keys with ":" separators. Validating them
// here keeps a crafted ID from escaping its key range or smuggling a
// separator into another session's records.
package validation

import (
	"fmt"
	"regexp"
)

// idPattern matches platform identifiers.
// Allows: letters, digits, then dots, hyphens and underscores.
// Max length: 64 characters.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateID validates a platform identifier before it is used in a
// database key. kind names the field for the error message, for example
// "sessionId".
//
// Valid IDs:
//   - 1-64 characters
//   - start with a letter or digit
//   - letters, digits, dots, hyphens, underscores after that
//
// Colons never pass, so a validated ID cannot cross a key boundary.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if len(id) > 64 {
		return fmt.Errorf("%s too long: %d characters (max 64)", kind, len(id))
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s format: %q", kind, id)
	}
	return nil
}
