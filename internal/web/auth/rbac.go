package auth

// RBACPermission represents a specific action that can be performed on a resource
type RBACPermission string

const (
	PostingsRead  RBACPermission = "postings.read"
	PostingsWrite RBACPermission = "postings.write"

	CandidatesRead  RBACPermission = "candidates.read"
	CandidatesWrite RBACPermission = "candidates.write"

	ApplicationsRead  RBACPermission = "applications.read"
	ApplicationsWrite RBACPermission = "applications.write"
	ApplicationsMove  RBACPermission = "applications.move"

	DocumentsRead   RBACPermission = "documents.read"
	DocumentsReview RBACPermission = "documents.review"

	NotificationsSend RBACPermission = "notifications.send"
	AnalyticsRead     RBACPermission = "analytics.read"
	WebhooksManage    RBACPermission = "webhooks.manage"
	AuditRead         RBACPermission = "audit.read"
	BulkRun           RBACPermission = "bulk.run"

	// TenantAdmin covers user management and job queue inspection
	TenantAdmin RBACPermission = "tenant.admin"
)

// Role names
const (
	RoleAdmin         = "admin"
	RoleRecruiter     = "recruiter"
	RoleHiringManager = "hiring_manager"
	RoleViewer        = "viewer"
)

// Role represents a user role with a set of permissions
type Role struct {
	Name        string
	Permissions []RBACPermission
}

// HasPermission checks if the role has a specific permission
func (r *Role) HasPermission(permission RBACPermission) bool {
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Predefined roles
var (
	// AdminRole has all permissions
	AdminRole = &Role{
		Name: RoleAdmin,
		Permissions: []RBACPermission{
			PostingsRead, PostingsWrite,
			CandidatesRead, CandidatesWrite,
			ApplicationsRead, ApplicationsWrite, ApplicationsMove,
			DocumentsRead, DocumentsReview,
			NotificationsSend, AnalyticsRead, WebhooksManage, AuditRead, BulkRun,
			TenantAdmin,
		},
	}

	// RecruiterRole runs the day-to-day pipeline
	RecruiterRole = &Role{
		Name: RoleRecruiter,
		Permissions: []RBACPermission{
			PostingsRead, PostingsWrite,
			CandidatesRead, CandidatesWrite,
			ApplicationsRead, ApplicationsWrite, ApplicationsMove,
			DocumentsRead, DocumentsReview,
			NotificationsSend, AnalyticsRead, AuditRead, BulkRun,
		},
	}

	// HiringManagerRole reviews candidates for their postings and moves them
	HiringManagerRole = &Role{
		Name: RoleHiringManager,
		Permissions: []RBACPermission{
			PostingsRead,
			CandidatesRead,
			ApplicationsRead, ApplicationsMove,
			DocumentsRead,
			AnalyticsRead,
		},
	}

	// ViewerRole is read-only
	ViewerRole = &Role{
		Name: RoleViewer,
		Permissions: []RBACPermission{
			PostingsRead, CandidatesRead, ApplicationsRead,
		},
	}
)

// GetRoleByName returns a predefined role by name
// Returns nil if the role is not found
func GetRoleByName(name string) *Role {
	switch name {
	case RoleAdmin:
		return AdminRole
	case RoleRecruiter:
		return RecruiterRole
	case RoleHiringManager:
		return HiringManagerRole
	case RoleViewer:
		return ViewerRole
	default:
		return nil
	}
}

// ValidRole reports whether name is one of the predefined roles
func ValidRole(name string) bool {
	return GetRoleByName(name) != nil
}

// UserHasPermission checks if any of the user's roles has the required permission
func UserHasPermission(roles []string, permission RBACPermission) bool {
	for _, roleName := range roles {
		role := GetRoleByName(roleName)
		if role != nil && role.HasPermission(permission) {
			return true
		}
	}
	return false
}
