package commands

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/term"

	"assessapp/internal/models"
	contextutils "assessapp/internal/utils"

	"github.com/spf13/cobra"
)

// UserCommands returns the user management commands
func UserCommands(rt *Runtime) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
		Long: `User management commands for the assessment platform.

Available commands:
  create   - Create a user, prompting for the password
  promote  - Change a user's role
  list     - List users`,
	}

	userCmd.AddCommand(createUserCmd(rt))
	userCmd.AddCommand(promoteCmd(rt))
	userCmd.AddCommand(listCmd(rt))

	return userCmd
}

func createUserCmd(rt *Runtime) *cobra.Command {
	var email string
	var admin bool

	cmd := &cobra.Command{
		Use:   "create [username]",
		Short: "Create a user",
		Long:  `Create a user. The password is read from the terminal without echo.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var username string
			if len(args) > 0 {
				username = args[0]
			} else {
				fmt.Print("Enter username: ")
				if _, err := fmt.Scanln(&username); err != nil {
					return contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to read username: %v", err)
				}
			}
			username = strings.TrimSpace(username)
			if username == "" {
				return contextutils.ErrorWithContextf("username is required")
			}

			password, err := readPassword()
			if err != nil {
				return err
			}

			role := models.RoleUser
			if admin {
				role = models.RoleAdmin
			}

			users, err := rt.Users(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			user, err := users.CreateUser(ctx, username, password, email, role)
			if err != nil {
				return contextutils.WrapErrorf(err, "failed to create user %s", username)
			}

			fmt.Printf("Created user %s (id %d, role %s)\n", user.Username, user.ID, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address for notifications")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	return cmd
}

func promoteCmd(rt *Runtime) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "promote <username>",
		Short: "Change a user's role",
		Long:  `Change a user's role. Defaults to admin; pass --role user to demote.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			target := models.Role(role)
			if !target.Valid() {
				return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown role %q", role)
			}

			users, err := rt.Users(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			user, err := users.GetUserByUsername(ctx, args[0])
			if err != nil {
				return contextutils.WrapErrorf(err, "failed to find user %s", args[0])
			}

			// Actor 0 is the operator at the terminal, never a stored user
			updated, err := users.UpdateRole(ctx, 0, user.ID, target)
			if err != nil {
				return contextutils.WrapError(err, "failed to update role")
			}
			fmt.Printf("User %s now has role %s\n", updated.Username, updated.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "role to assign (user or admin)")
	return cmd
}

func listCmd(rt *Runtime) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			users, err := rt.Users(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			list, err := users.ListUsers(ctx, limit, offset)
			if err != nil {
				return contextutils.WrapError(err, "failed to list users")
			}
			if len(list) == 0 {
				fmt.Println("No users found")
				return nil
			}

			fmt.Printf("%-5s %-20s %-30s %-6s %-10s\n", "ID", "Username", "Email", "Role", "Created")
			fmt.Println(strings.Repeat("-", 75))
			for _, u := range list {
				email := "N/A"
				if u.Email != nil {
					email = *u.Email
				}
				fmt.Printf("%-5d %-20s %-30s %-6s %-10s\n", u.ID, u.Username, email, u.Role, u.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum users to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "users to skip")
	return cmd
}

func readPassword() (string, error) {
	fmt.Print("Enter password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to read password: %v", err)
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to read password: %v", err)
	}
	if string(first) != string(second) {
		return "", contextutils.WrapError(contextutils.ErrInvalidInput, "passwords do not match")
	}
	return string(first), nil
}
