package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rwaadmin/internal/model"
	"rwaadmin/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"` // Permission UUIDs
}

type UpdateRoleRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type UpdateRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" binding:"required"`
}

type RoleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	IsSystem    bool                 `json:"is_system"`
	Permissions []PermissionResponse `json:"permissions"`
	CreatedAt   string               `json:"created_at"`
}

type PermissionResponse struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	CreateRole(ctx context.Context, req CreateRoleRequest) (*RoleResponse, error)
	UpdateRole(ctx context.Context, id string, req UpdateRoleRequest) (*RoleResponse, error)
	DeleteRole(ctx context.Context, id string) error
	ListPermissions(ctx context.Context) ([]PermissionResponse, error)
	UpdateRolePermissions(ctx context.Context, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error)
	// PermissionsForRoles returns the union of permission codes for a role set.
	PermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error)
	SeedDefaultRolesAndPermissions(ctx context.Context) error
}

type roleService struct {
	repo repository.RoleRepository
	tm   repository.TransactionManager
}

func NewRoleService(repo repository.RoleRepository, tm repository.TransactionManager) RoleService {
	return &roleService{repo: repo, tm: tm}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}

	role, err := s.repo.FindByIDWithPermissions(ctx, roleID)
	if err != nil {
		return nil, roleLookupError(err, id)
	}

	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) CreateRole(ctx context.Context, req CreateRoleRequest) (*RoleResponse, error) {
	role := model.Role{
		Name:        strings.ToUpper(strings.TrimSpace(req.Name)),
		Description: req.Description,
		IsSystem:    false,
	}
	permIDs, err := parseIDs(req.Permissions)
	if err != nil {
		return nil, err
	}

	err = s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, &role); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: role %s", ErrAlreadyExists, role.Name)
			}
			return fmt.Errorf("failed to create role: %w", err)
		}
		if len(permIDs) > 0 {
			if err := s.repo.UpdatePermissions(txCtx, role.ID, permIDs); err != nil {
				return fmt.Errorf("failed to assign permissions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reload with permissions
	return s.GetRole(ctx, role.ID.String())
}

func (s *roleService) UpdateRole(ctx context.Context, id string, req UpdateRoleRequest) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}

	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		return nil, roleLookupError(err, id)
	}

	name := strings.ToUpper(strings.TrimSpace(req.Name))
	// Approval policies reference system roles by name.
	if role.IsSystem && name != role.Name {
		return nil, fmt.Errorf("%w: system role '%s' cannot be renamed", ErrForbidden, role.Name)
	}
	role.Name = name
	role.Description = req.Description

	if err := s.repo.Update(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	return s.GetRole(ctx, id)
}

func (s *roleService) DeleteRole(ctx context.Context, id string) error {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}

	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		return roleLookupError(err, id)
	}
	if role.IsSystem {
		return fmt.Errorf("%w: cannot delete system role '%s'", ErrForbidden, role.Name)
	}

	return s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Delete(txCtx, roleID); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return nil
	})
}

func (s *roleService) ListPermissions(ctx context.Context) ([]PermissionResponse, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}

	res := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		res = append(res, toPermissionResponse(p))
	}
	return res, nil
}

func (s *roleService) UpdateRolePermissions(ctx context.Context, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error) {
	id, err := uuid.Parse(roleID)
	if err != nil {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	permIDs, err := parseIDs(req.PermissionIDs)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdatePermissions(ctx, id, permIDs); err != nil {
		return nil, roleLookupError(err, roleID)
	}

	return s.GetRole(ctx, roleID)
}

func (s *roleService) PermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error) {
	codes, err := s.repo.GetPermissionsByRoleNames(ctx, roleNames)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for %v: %w", roleNames, err)
	}
	return codes, nil
}

// defaultPermissions are the capability codes checked by the HTTP layer.
var defaultPermissions = []model.Permission{
	{Code: "projects.read", Name: "View projects", Group: "projects"},
	{Code: "projects.write", Name: "Create projects and request phase changes", Group: "projects"},
	{Code: "transactions.read", Name: "View transactions", Group: "transactions"},
	{Code: "transactions.write", Name: "Submit transactions for approval", Group: "transactions"},
	{Code: "transactions.execute", Name: "Execute approved transactions", Group: "transactions"},
	{Code: "approvals.read", Name: "View approval requests", Group: "approvals"},
	{Code: "approvals.decide", Name: "Approve or reject requests", Group: "approvals"},
	{Code: "policies.read", Name: "View approval policies", Group: "policies"},
	{Code: "policies.write", Name: "Edit approval policies", Group: "policies"},
	{Code: "users.read", Name: "View users", Group: "users"},
	{Code: "users.write", Name: "Manage users", Group: "users"},
	{Code: "users.delete", Name: "Delete users", Group: "users"},
	{Code: "audit.read", Name: "View the audit log", Group: "audit"},
	{Code: "roles.manage", Name: "Manage roles and permissions", Group: "roles"},
}

type roleDefinition struct {
	Description string
	PermCodes   []string
}

var defaultRoles = map[string]roleDefinition{
	model.RoleSuperAdmin: {
		Description: "Full access, overrides any approval quorum",
		PermCodes: []string{
			"projects.read", "projects.write",
			"transactions.read", "transactions.write", "transactions.execute",
			"approvals.read", "approvals.decide",
			"policies.read", "policies.write",
			"users.read", "users.write", "users.delete",
			"audit.read", "roles.manage",
		},
	},
	model.RoleCompliance: {
		Description: "Compliance officer, signs off project phases and transactions",
		PermCodes: []string{
			"projects.read", "transactions.read",
			"approvals.read", "approvals.decide",
			"policies.read", "audit.read",
		},
	},
	model.RoleCustody: {
		Description: "Custody desk, attests asset custody",
		PermCodes: []string{
			"projects.read", "transactions.read", "transactions.execute",
			"approvals.read", "approvals.decide",
		},
	},
	model.RoleLegal: {
		Description: "Legal reviewer",
		PermCodes: []string{
			"projects.read", "approvals.read", "approvals.decide", "audit.read",
		},
	},
	model.RoleSigner: {
		Description: "Multisig signer with a signing weight",
		PermCodes: []string{
			"projects.read", "transactions.read", "transactions.execute",
			"approvals.read", "approvals.decide",
		},
	},
	model.RoleOperator: {
		Description: "Operations staff, creates projects and submits transactions",
		PermCodes: []string{
			"projects.read", "projects.write",
			"transactions.read", "transactions.write",
			"approvals.read",
		},
	},
	model.RoleViewer: {
		Description: "Read-only access",
		PermCodes: []string{
			"projects.read", "transactions.read", "approvals.read", "policies.read",
		},
	},
}

// SeedDefaultRolesAndPermissions creates the default permissions and roles if not already present
func (s *roleService) SeedDefaultRolesAndPermissions(ctx context.Context) error {
	return s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		permByCode := make(map[string]uuid.UUID, len(defaultPermissions))
		for _, def := range defaultPermissions {
			p := def
			if err := s.repo.FindOrCreatePermission(txCtx, &p); err != nil {
				return fmt.Errorf("failed to seed permission '%s': %w", p.Code, err)
			}
			permByCode[p.Code] = p.ID
		}

		for name, def := range defaultRoles {
			role, err := s.repo.FindByName(txCtx, name)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				role = &model.Role{Name: name, Description: def.Description, IsSystem: true}
				if err := s.repo.Create(txCtx, role); err != nil {
					return fmt.Errorf("failed to seed role '%s': %w", name, err)
				}
			} else if err != nil {
				return fmt.Errorf("failed to load role '%s': %w", name, err)
			}

			ids := make([]uuid.UUID, 0, len(def.PermCodes))
			for _, code := range def.PermCodes {
				if id, ok := permByCode[code]; ok {
					ids = append(ids, id)
				}
			}
			if err := s.repo.UpdatePermissions(txCtx, role.ID, ids); err != nil {
				return fmt.Errorf("failed to assign permissions to role '%s': %w", name, err)
			}
		}
		return nil
	})
}

// --- Helpers ---

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, pid := range raw {
		parsed, err := uuid.Parse(pid)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid permission id '%s'", ErrValidation, pid)
		}
		ids = append(ids, parsed)
	}
	return ids, nil
}

func roleLookupError(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return fmt.Errorf("failed to load role: %w", err)
}

func toRoleResponse(r model.Role) RoleResponse {
	perms := make([]PermissionResponse, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, toPermissionResponse(p))
	}

	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   formatTime(r.CreatedAt),
	}
}

func toPermissionResponse(p model.Permission) PermissionResponse {
	return PermissionResponse{
		ID:    p.ID.String(),
		Code:  p.Code,
		Name:  p.Name,
		Group: p.Group,
	}
}
