package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/bcnelson/membership-manager/internal/domain"
)

func TestValidateHandle(t *testing.T) {
	tests := []struct {
		name    string
		handle  string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"with digits", "alice2", false},
		{"with separators", "alice.b-c_d", false},
		{"mixed case", "AliceB", false},
		{"empty", "", true},
		{"starts with digit", "1alice", true},
		{"starts with dot", ".alice", true},
		{"contains space", "alice b", true},
		{"contains at", "alice@example", true},
		{"too long", "a" + strings.Repeat("b", maxHandleLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHandle(tt.handle)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHandle(%q) error = %v, wantErr %v", tt.handle, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"simple", "alice@example.com", false},
		{"plus addressing", "alice+groups@example.co.uk", false},
		{"empty", "", true},
		{"missing at", "alice.example.com", true},
		{"missing domain dot", "alice@localhost", true},
		{"display name", "Alice <alice@example.com>", true},
		{"surrounding space", " alice@example.com", true},
		{"too long", strings.Repeat("a", maxEmailLength) + "@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"simple", "Sunflowers", false},
		{"unicode", "Zoë Müller", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"control character", "Sun\x00flowers", true},
		{"newline", "Sun\nflowers", true},
		{"too long", strings.Repeat("x", maxNameLength+1), true},
		{"max length", strings.Repeat("é", maxNameLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	if err := ValidateID("6f1c1a5e-8a4b-4c1e-9a55-1d2b3c4d5e6f"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, id := range []string{"", "m1", "not-a-uuid"} {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) expected error", id)
		}
	}
}

func TestValidateUpsertPrincipal(t *testing.T) {
	errs := ValidateUpsertPrincipal(&domain.UpsertPrincipalRequest{Email: "bad", Handle: ""})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "email" || errs[1].Field != "handle" {
		t.Errorf("unexpected fields: %s, %s", errs[0].Field, errs[1].Field)
	}

	errs = ValidateUpsertPrincipal(&domain.UpsertPrincipalRequest{Email: "alice@example.com", Handle: "alice"})
	if errs.HasErrors() {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestValidateCreateMember(t *testing.T) {
	errs := ValidateCreateMember(&domain.CreateMemberRequest{FirstName: "Max", LastName: ""})
	if len(errs) != 1 || errs[0].Field != "last_name" {
		t.Fatalf("expected last_name error, got %v", errs)
	}
}

func TestValidateAddMembership(t *testing.T) {
	errs := ValidateAddMembership(&domain.AddMembershipRequest{MemberID: "x"})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	var errs ValidationErrors
	if errs.Error() != "" {
		t.Errorf("empty errors should have empty message")
	}
	errs.Add("name", "name must not be empty")
	if errs.Error() != "name: name must not be empty" {
		t.Errorf("unexpected message: %q", errs.Error())
	}
	errs.Add("email", "invalid")
	if !strings.Contains(errs.Error(), "and 1 more errors") {
		t.Errorf("unexpected message: %q", errs.Error())
	}
}

func TestValidationErrorsStandardError(t *testing.T) {
	errs := ValidateUpsertPrincipal(&domain.UpsertPrincipalRequest{Email: "not-an-email", Handle: "bad handle!"})
	se := errs.StandardError()
	if se.Code != domain.ErrCodeValidationError {
		t.Errorf("code = %q", se.Code)
	}
	if se.Field != "email" {
		t.Errorf("field = %q, want email", se.Field)
	}
	if se.Message != errs.Error() {
		t.Errorf("message = %q, want %q", se.Message, errs.Error())
	}
	details, ok := se.Details["errors"].([]*FieldError)
	if !ok || len(details) != 2 {
		t.Fatalf("details = %#v", se.Details)
	}

	body, err := json.Marshal(se)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), "not-an-email") || strings.Contains(string(body), "bad handle!") {
		t.Errorf("submitted values echoed in %s", body)
	}
}
