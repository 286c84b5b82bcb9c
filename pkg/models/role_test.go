package models

import "testing"

func TestRoleAtLeast(t *testing.T) {
	cases := []struct {
		r, other Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleDeveloper, true},
		{RoleAdmin, RoleAnalyst, true},
		{RoleDeveloper, RoleAdmin, false},
		{RoleDeveloper, RoleDeveloper, true},
		{RoleDeveloper, RoleAnalyst, true},
		{RoleAnalyst, RoleAdmin, false},
		{RoleAnalyst, RoleDeveloper, false},
		{RoleAnalyst, RoleAnalyst, true},
		{Role("BOGUS"), RoleAnalyst, false},
	}
	for _, tc := range cases {
		if got := tc.r.AtLeast(tc.other); got != tc.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tc.r, tc.other, got, tc.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		if _, err := ParseRole(string(r)); err != nil {
			t.Errorf("ParseRole(%s): %v", r, err)
		}
	}
	for _, s := range []string{"", "admin", "SUPERUSER"} {
		if _, err := ParseRole(s); err == nil {
			t.Errorf("ParseRole(%q) accepted an unknown role", s)
		}
	}
}

func TestParseOperationConfigurableOnly(t *testing.T) {
	for _, op := range ConfigurableOperations {
		if _, err := ParseOperation(string(op)); err != nil {
			t.Errorf("ParseOperation(%s): %v", op, err)
		}
	}
	for _, s := range []string{"DDL", "UNKNOWN", "select", ""} {
		if _, err := ParseOperation(s); err == nil {
			t.Errorf("ParseOperation(%q) accepted a non-configurable operation", s)
		}
	}
}
