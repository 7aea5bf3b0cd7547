package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hireflow/hireflow/internal/ats/tenants"
	"github.com/hireflow/hireflow/internal/ats/users"
	"github.com/hireflow/hireflow/internal/cli/ui"
	"github.com/hireflow/hireflow/internal/web/auth"
)

// askOne is replaced in tests
var askOne = survey.AskOne

var roleNames = []string{auth.RoleAdmin, auth.RoleRecruiter, auth.RoleHiringManager, auth.RoleViewer}

var (
	tenantSlug string
	tenantName string
)

// NewTenantCommand creates the tenant command
func NewTenantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant",
		Example: `  hireflow tenant create --slug acme --name "Acme Corp"`,
		RunE: runTenantCreate,
	}
	create.Flags().StringVar(&tenantSlug, "slug", "", "URL-safe tenant identifier used at login")
	create.Flags().StringVar(&tenantName, "name", "", "Display name")
	cmd.AddCommand(create)

	return cmd
}

func runTenantCreate(cmd *cobra.Command, args []string) error {
	if tenantSlug == "" {
		if err := askOne(&survey.Input{Message: "Tenant slug:"}, &tenantSlug, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	if tenantName == "" {
		if err := askOne(&survey.Input{Message: "Tenant name:"}, &tenantName, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := tenants.NewStore(db).Create(cmd.Context(), tenantSlug, tenantName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ui.Success(out, "Tenant created", noColor)
	kv := ui.NewKeyValues(out, noColor)
	kv.Add("ID", t.ID.String())
	kv.Add("Slug", t.Slug)
	kv.Add("Name", t.Name)
	kv.Render()
	return nil
}

var (
	userTenant   string
	userEmail    string
	userName     string
	userPassword string
	userRoles    []string
)

// NewUserCommand creates the user command
func NewUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user in a tenant",
		Long: fmt.Sprintf(`Create a user in a tenant. Missing values are prompted for.

Roles: %s`, strings.Join(roleNames, ", ")),
		Example: `  hireflow user create --tenant acme --email ada@acme.test --name "Ada" --role admin`,
		RunE:    runUserCreate,
	}
	create.Flags().StringVar(&userTenant, "tenant", "", "Tenant slug")
	create.Flags().StringVar(&userEmail, "email", "", "Login email")
	create.Flags().StringVar(&userName, "name", "", "Display name")
	create.Flags().StringVar(&userPassword, "password", "", "Password (prompted when omitted)")
	create.Flags().StringSliceVar(&userRoles, "role", nil, "Role to grant; repeatable")
	cmd.AddCommand(create)

	return cmd
}

// checkRoles rejects unknown role names with a suggestion
func checkRoles(roles []string) error {
	for _, r := range roles {
		if !auth.ValidRole(r) {
			err := fmt.Errorf("unknown role %q", r)
			return &reportError{err: err, report: ui.UnknownRoleError(r, ui.Suggest(r, roleNames, 2), noColor)}
		}
	}
	return nil
}

func promptUser() error {
	questions := []struct {
		missing bool
		prompt  survey.Prompt
		dest    interface{}
	}{
		{userTenant == "", &survey.Input{Message: "Tenant slug:"}, &userTenant},
		{userEmail == "", &survey.Input{Message: "Email:"}, &userEmail},
		{userName == "", &survey.Input{Message: "Name:"}, &userName},
		{userPassword == "", &survey.Password{Message: "Password:"}, &userPassword},
	}
	for _, q := range questions {
		if !q.missing {
			continue
		}
		if err := askOne(q.prompt, q.dest, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	if len(userRoles) == 0 {
		prompt := &survey.MultiSelect{
			Message: "Roles:",
			Options: roleNames,
			Default: []string{auth.RoleRecruiter},
		}
		if err := askOne(prompt, &userRoles, survey.WithValidator(survey.MinItems(1))); err != nil {
			return err
		}
	}
	return nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	if err := checkRoles(userRoles); err != nil {
		return err
	}
	if err := promptUser(); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tenantStore := tenants.NewStore(db)
	t, err := tenantStore.GetBySlug(cmd.Context(), userTenant)
	if err != nil {
		return fmt.Errorf("tenant %q: %w", userTenant, err)
	}

	svc := users.NewService(users.NewStore(db), tenantStore,
		auth.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), logger)
	u, err := svc.Register(cmd.Context(), t.ID, userEmail, userName, userPassword, userRoles)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ui.Success(out, "User created", noColor)
	kv := ui.NewKeyValues(out, noColor)
	kv.Add("ID", u.ID.String())
	kv.Add("Tenant", t.Slug)
	kv.Add("Email", u.Email)
	kv.Add("Roles", strings.Join(u.Roles, ", "))
	kv.Render()
	return nil
}

// tenantID resolves a tenant slug
func tenantID(cmd *cobra.Command, store *tenants.Store, slug string) (uuid.UUID, error) {
	if slug == "" {
		return uuid.Nil, fmt.Errorf("--tenant is required")
	}
	t, err := store.GetBySlug(cmd.Context(), slug)
	if err != nil {
		return uuid.Nil, fmt.Errorf("tenant %q: %w", slug, err)
	}
	return t.ID, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
