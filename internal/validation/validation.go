// Package validation checks user-supplied values before they reach the
// services.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/google/uuid"
)

const (
	maxHandleLength = 64
	maxNameLength   = 100
	maxEmailLength  = 254
)

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// ValidateHandle validates a principal handle.
// Handles start with a letter and contain only letters, numbers, '-', '_' or '.'.
func ValidateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("handle must not be empty")
	}
	if len(handle) > maxHandleLength {
		return fmt.Errorf("handle must be at most %d characters", maxHandleLength)
	}
	if !isAlpha(handle[0]) {
		return fmt.Errorf("handle must start with a letter")
	}
	for _, b := range []byte(handle) {
		if !isAlpha(b) && !isNum(b) && b != '-' && b != '_' && b != '.' {
			return fmt.Errorf("handles can only contain letters, numbers, '-', '_' or '.'")
		}
	}
	return nil
}

// ValidateEmail validates a bare email address. Display names such as
// "Jane <jane@example.com>" are rejected.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email must not be empty")
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("email must be at most %d characters", maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address")
	}
	if !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return fmt.Errorf("email domain must contain a dot")
	}
	return nil
}

// ValidateName validates a human-readable name (member first/last name,
// group name).
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("name must be at most %d characters", maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name must not contain control characters")
		}
	}
	return nil
}

// ValidateID validates a resource identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("id must be a UUID")
	}
	return nil
}

// ValidateUpsertPrincipal validates a principal upsert request.
func ValidateUpsertPrincipal(req *domain.UpsertPrincipalRequest) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateEmail(req.Email); err != nil {
		errs.Add("email", err.Error())
	}
	if err := ValidateHandle(req.Handle); err != nil {
		errs.Add("handle", err.Error())
	}
	return errs
}

// ValidateCreateMember validates a member creation request.
func ValidateCreateMember(req *domain.CreateMemberRequest) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateName(req.FirstName); err != nil {
		errs.Add("first_name", err.Error())
	}
	if err := ValidateName(req.LastName); err != nil {
		errs.Add("last_name", err.Error())
	}
	return errs
}

// ValidateCreateGroup validates a group creation request.
func ValidateCreateGroup(req *domain.CreateGroupRequest) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateName(req.Name); err != nil {
		errs.Add("name", err.Error())
	}
	return errs
}

// ValidateAddMembership validates an association request.
func ValidateAddMembership(req *domain.AddMembershipRequest) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateID(req.MemberID); err != nil {
		errs.Add("member_id", err.Error())
	}
	if err := ValidateID(req.GroupID); err != nil {
		errs.Add("group_id", err.Error())
	}
	return errs
}
