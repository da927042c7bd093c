package models

// Scan permission tags carried in access credentials
const (
	PermissionBasicScan     = "basic_scan"
	PermissionAdvancedScan  = "advanced_scan"
	PermissionExportReports = "export_reports"
)

// AllValidPermissions is the whitelist of capability tags
var AllValidPermissions = map[string]bool{
	PermissionBasicScan:     true,
	PermissionAdvancedScan:  true,
	PermissionExportReports: true,
}

// SecondFactorPermissions are only granted when the principal has a second factor enabled
var SecondFactorPermissions = map[string]bool{
	PermissionAdvancedScan:  true,
	PermissionExportReports: true,
}

// IsValidPermission checks if a tag exists in the whitelist
func IsValidPermission(permission string) bool {
	return AllValidPermissions[permission]
}

// PermissionsFor returns the capability tags granted to a principal
func PermissionsFor(p *Principal) []string {
	permissions := []string{PermissionBasicScan}
	if p.SecondFactorEnabled {
		permissions = append(permissions, PermissionAdvancedScan, PermissionExportReports)
	}
	return permissions
}

// HasPermission checks if permissions contains the required tag
func HasPermission(permissions []string, required string) bool {
	for _, p := range permissions {
		if p == required {
			return true
		}
	}
	return false
}

// ValidatePermissions reports whether every tag is known
func ValidatePermissions(permissions []string) bool {
	for _, p := range permissions {
		if !IsValidPermission(p) {
			return false
		}
	}
	return true
}
