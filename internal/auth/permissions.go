package auth

import "github.com/aethra/domus/internal/models"

// Action represents a permission action
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionImport Action = "import"
)

// Resource is an area of the administrator portal
type Resource string

const (
	ResourceBuildings    Resource = "buildings"
	ResourceApartments   Resource = "apartments"
	ResourceTenants      Resource = "tenants"
	ResourceLeases       Resource = "leases"
	ResourceApplications Resource = "applications"
	ResourcePayments     Resource = "payments"
	ResourceLoyalty      Resource = "loyalty"
	ResourceIncidents    Resource = "incidents"
	ResourceMessages     Resource = "messages"
	ResourceDocuments    Resource = "documents"
	ResourceDashboard    Resource = "dashboard"
	ResourceAudit        Resource = "audit"
	ResourceSettings     Resource = "settings"
	ResourceAdmins       Resource = "admins"
)

var allActions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport, ActionImport}

// managers run day-to-day operations but cannot delete records, change
// settings, manage accounts or import data
var managerDenied = map[Resource]map[Action]bool{
	ResourceSettings: {ActionView: true, ActionCreate: true, ActionEdit: true, ActionDelete: true},
	ResourceAdmins:   {ActionView: true, ActionCreate: true, ActionEdit: true, ActionDelete: true},
	ResourceAudit:    {ActionView: true, ActionExport: true},
}

// Can reports whether role may perform action on resource. Tenants never
// reach administrator resources; their portal is scoped to their own
// records instead.
func Can(role string, resource Resource, action Action) bool {
	switch role {
	case models.RoleAdmin:
		return true
	case models.RoleManager:
		if action == ActionDelete || action == ActionImport {
			return false
		}
		return !managerDenied[resource][action]
	default:
		return false
	}
}

// Permissions lists the actions role holds on resource
func Permissions(role string, resource Resource) []Action {
	var out []Action
	for _, a := range allActions {
		if Can(role, resource, a) {
			out = append(out, a)
		}
	}
	return out
}

// IsStaff reports whether role belongs to the administrator portal
func IsStaff(role string) bool {
	return role == models.RoleAdmin || role == models.RoleManager
}
