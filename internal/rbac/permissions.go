// Package rbac holds the static role catalog and permission matching rules.
package rbac

import (
	"slices"
	"strings"
)

// Permission strings, "resource:action".
const (
	OrgCreate = "organization:create"
	OrgRead   = "organization:read"
	OrgUpdate = "organization:update"
	OrgDelete = "organization:delete"

	UserCreate      = "user:create"
	UserRead        = "user:read"
	UserUpdate      = "user:update"
	UserDelete      = "user:delete"
	UserManageRoles = "user:manage_roles"

	EquipmentCreate      = "equipment:create"
	EquipmentRead        = "equipment:read"
	EquipmentUpdate      = "equipment:update"
	EquipmentDelete      = "equipment:delete"
	EquipmentReportIssue = "equipment:report_issue"

	WorkOrderCreate   = "workorder:create"
	WorkOrderRead     = "workorder:read"
	WorkOrderUpdate   = "workorder:update"
	WorkOrderDelete   = "workorder:delete"
	WorkOrderAssign   = "workorder:assign"
	WorkOrderComplete = "workorder:complete"

	ScheduleCreate = "schedule:create"
	ScheduleRead   = "schedule:read"
	ScheduleUpdate = "schedule:update"
	ScheduleDelete = "schedule:delete"

	PartsCreate = "parts:create"
	PartsRead   = "parts:read"
	PartsUpdate = "parts:update"
	PartsDelete = "parts:delete"
	PartsUse    = "parts:use"

	ReportCreate = "report:create"
	ReportRead   = "report:read"
	ReportUpdate = "report:update"
	ReportDelete = "report:delete"
	ReportExport = "report:export"

	SettingsManage     = "settings:manage"
	AuditRead          = "audit:read"
	NotificationManage = "notification:manage"

	// Wildcard grants every permission.
	Wildcard = "*"
)

// Role names.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleTechnician = "technician"
)

var rolePermissions = map[string][]string{
	RoleSuperAdmin: {Wildcard},
	RoleAdmin: {
		OrgRead, OrgUpdate,
		UserCreate, UserRead, UserUpdate, UserDelete, UserManageRoles,
		EquipmentCreate, EquipmentRead, EquipmentUpdate, EquipmentDelete, EquipmentReportIssue,
		WorkOrderCreate, WorkOrderRead, WorkOrderUpdate, WorkOrderDelete, WorkOrderAssign, WorkOrderComplete,
		ScheduleCreate, ScheduleRead, ScheduleUpdate, ScheduleDelete,
		PartsCreate, PartsRead, PartsUpdate, PartsDelete, PartsUse,
		ReportCreate, ReportRead, ReportExport,
		SettingsManage, AuditRead,
	},
	RoleManager: {
		UserRead,
		EquipmentCreate, EquipmentRead, EquipmentUpdate, EquipmentDelete, EquipmentReportIssue,
		WorkOrderCreate, WorkOrderRead, WorkOrderUpdate, WorkOrderDelete, WorkOrderAssign, WorkOrderComplete,
		ScheduleCreate, ScheduleRead, ScheduleUpdate, ScheduleDelete,
		PartsCreate, PartsRead, PartsUpdate, PartsDelete, PartsUse,
		ReportCreate, ReportRead, ReportExport,
	},
	RoleTechnician: {
		EquipmentRead, EquipmentUpdate, EquipmentReportIssue,
		WorkOrderCreate, WorkOrderRead, WorkOrderUpdate, WorkOrderComplete,
		ScheduleRead,
		PartsRead, PartsUse,
		ReportRead,
	},
}

// Lower rank is more privileged.
var hierarchy = map[string]int{
	RoleSuperAdmin: 1,
	RoleAdmin:      2,
	RoleManager:    3,
	RoleTechnician: 4,
}

// unrankedActor is the rank of an actor whose role is not in the catalog.
const unrankedActor = 99

// Roles lists the known roles from most to least privileged.
func Roles() []string {
	return []string{RoleSuperAdmin, RoleAdmin, RoleManager, RoleTechnician}
}

// IsRole reports whether role is in the catalog.
func IsRole(role string) bool {
	_, ok := hierarchy[role]
	return ok
}

// PermissionsFor returns a copy of the role's permission set; unknown roles get none.
func PermissionsFor(role string) []string {
	return slices.Clone(rolePermissions[role])
}

// Has grants iff perms contains "*", required itself, or "<resource>:*" for required's resource.
func Has(perms []string, required string) bool {
	for _, p := range perms {
		if p == Wildcard || p == required {
			return true
		}
	}
	resource, _, ok := strings.Cut(required, ":")
	if !ok {
		return false
	}
	return slices.Contains(perms, resource+":*")
}

// HasAny reports whether at least one of required is granted.
func HasAny(perms []string, required ...string) bool {
	for _, r := range required {
		if Has(perms, r) {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of required is granted.
func HasAll(perms []string, required ...string) bool {
	for _, r := range required {
		if !Has(perms, r) {
			return false
		}
	}
	return true
}

// CanManageRole reports whether actor may assign or manage target. Only strictly
// less privileged, known target roles qualify.
func CanManageRole(actor, target string) bool {
	targetRank, ok := hierarchy[target]
	if !ok {
		return false
	}
	actorRank, ok := hierarchy[actor]
	if !ok {
		actorRank = unrankedActor
	}
	return actorRank < targetRank
}

// ValidPermission reports whether p is "*" or has exactly one colon with both sides non-empty.
func ValidPermission(p string) bool {
	if p == Wildcard {
		return true
	}
	if strings.Count(p, ":") != 1 {
		return false
	}
	resource, action, _ := strings.Cut(p, ":")
	return resource != "" && action != ""
}
