package models

import (
	"testing"
)

func TestIsValidPermission(t *testing.T) {
	tests := []struct {
		name       string
		permission string
		expected   bool
	}{
		{name: "basic scan", permission: PermissionBasicScan, expected: true},
		{name: "advanced scan", permission: PermissionAdvancedScan, expected: true},
		{name: "export reports", permission: PermissionExportReports, expected: true},
		{name: "unknown", permission: "delete_everything", expected: false},
		{name: "empty", permission: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidPermission(tt.permission)
			if result != tt.expected {
				t.Errorf("IsValidPermission(%q) = %v, want %v", tt.permission, result, tt.expected)
			}
		})
	}
}

func TestPermissionsFor(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		expected []string
	}{
		{name: "without second factor", enabled: false, expected: []string{PermissionBasicScan}},
		{name: "with second factor", enabled: true, expected: []string{PermissionBasicScan, PermissionAdvancedScan, PermissionExportReports}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PermissionsFor(&Principal{SecondFactorEnabled: tt.enabled})
			if len(got) != len(tt.expected) {
				t.Fatalf("PermissionsFor() = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("PermissionsFor()[%d] = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name        string
		permissions []string
		required    string
		expected    bool
	}{
		{name: "present", permissions: []string{PermissionBasicScan}, required: PermissionBasicScan, expected: true},
		{name: "absent", permissions: []string{PermissionBasicScan}, required: PermissionExportReports, expected: false},
		{name: "empty list", permissions: nil, required: PermissionBasicScan, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.permissions, tt.required); got != tt.expected {
				t.Errorf("HasPermission(%v, %q) = %v, want %v", tt.permissions, tt.required, got, tt.expected)
			}
		})
	}
}

func TestValidatePermissions(t *testing.T) {
	if !ValidatePermissions([]string{PermissionBasicScan, PermissionAdvancedScan}) {
		t.Error("expected known permissions to validate")
	}
	if ValidatePermissions([]string{PermissionBasicScan, "root"}) {
		t.Error("expected unknown permission to fail validation")
	}
}
