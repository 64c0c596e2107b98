package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"regdesk.org/internal/auth"
)

// opener connects to the admin store named by dsn.
type opener func(dsn string) (auth.AdminStore, func() error, error)

type cli struct {
	open  opener
	dsn   string
	store auth.AdminStore
	close func() error
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Manage regdesk users, groups and permission grants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.dsn, "dsn", os.Getenv("REGDESK_PG_DSN"), "PostgreSQL DSN")

	root.AddCommand(
		newHashPasswordCmd(),
		c.newUserCmd(),
		c.newGroupCmd(),
		c.newGrantCmd(),
		c.newCheckCmd(),
	)
	return root
}

// connect opens the store on first use.
func (c *cli) connect() (auth.AdminStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, closeFn, err := c.open(c.dsn)
	if err != nil {
		return nil, err
	}
	c.store, c.close = store, closeFn
	return store, nil
}

// Close releases the store opened by connect, if any.
func (c *cli) Close() error {
	if c.close == nil {
		return nil
	}
	err := c.close()
	c.store, c.close = nil, nil
	return err
}

func newHashPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password",
		Long: `Print the bcrypt hash of a password read from --password or, when the
flag is omitted, from the first line of standard input.

Examples:
  authctl hash-password --password 's3cret'
  echo 's3cret' | authctl hash-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password given")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "plaintext password")
	return cmd
}

func (c *cli) newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create users and change their status",
	}

	var (
		username, name, email, role, password string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(username) == "" {
				return errors.New("--username is required")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("--password: %w", err)
			}
			store, err := c.connect()
			if err != nil {
				return err
			}
			user, err := store.CreateUser(cmd.Context(), auth.User{
				Username:     username,
				Name:         name,
				Email:        email,
				PasswordHash: hash,
				Role:         auth.ParseRole(role),
				Status:       auth.StatusActive,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "login name (unique)")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&role, "role", string(auth.RoleUser), "user or admin")
	create.Flags().StringVar(&password, "password", "", "initial password")

	status := &cobra.Command{
		Use:   "status <user-id> <active|inactive|suspended>",
		Short: "Change the status of a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := auth.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("invalid status %q", args[1])
			}
			store, err := c.connect()
			if err != nil {
				return err
			}
			if err := store.SetUserStatus(cmd.Context(), args[0], st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s is now %s\n", args[0], st)
			return nil
		},
	}

	cmd.AddCommand(create, status)
	return cmd
}

func (c *cli) newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create groups and manage membership",
	}
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.connect()
			if err != nil {
				return err
			}
			group, err := store.CreateGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created group %s (%s)\n", group.Name, group.ID)
			return nil
		},
	}
	addMember := &cobra.Command{
		Use:   "add-member <group-id> <user-id>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.connect()
			if err != nil {
				return err
			}
			if err := store.AddMember(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s added to group %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.AddCommand(create, addMember)
	return cmd
}

func (c *cli) newGrantCmd() *cobra.Command {
	var expires string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a permission to a user or group",
		Long: `Grant a permission to a user or group.

--expires accepts an RFC 3339 timestamp or a duration relative to now
(for example 720h). Without it the grant never expires.

Examples:
  authctl grant user 01J0... legal-register:view
  authctl grant group 01J1... procedures:edit --expires 2026-01-01T00:00:00Z`,
	}
	cmd.PersistentFlags().StringVar(&expires, "expires", "", "expiry (RFC 3339 or duration)")

	grant := func(target string, apply func(store auth.AdminStore, cmd *cobra.Command, id string, g auth.Grant) error) *cobra.Command {
		return &cobra.Command{
			Use:   target + " <" + target + "-id> <permission>",
			Short: "Grant a permission to a " + target,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				expiry, err := parseExpiry(expires, time.Now())
				if err != nil {
					return err
				}
				permission := strings.TrimSpace(args[1])
				if permission == "" {
					return errors.New("permission is required")
				}
				store, err := c.connect()
				if err != nil {
					return err
				}
				if err := apply(store, cmd, args[0], auth.Grant{SystemID: permission, Expiry: expiry}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s %s\n", permission, target, args[0])
				return nil
			},
		}
	}

	cmd.AddCommand(
		grant("user", func(store auth.AdminStore, cmd *cobra.Command, id string, g auth.Grant) error {
			return store.GrantUser(cmd.Context(), id, g)
		}),
		grant("group", func(store auth.AdminStore, cmd *cobra.Command, id string, g auth.Grant) error {
			return store.GrantGroup(cmd.Context(), id, g)
		}),
	)
	return cmd
}

func (c *cli) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <username> [permission]",
		Short: "Show the effective permissions of a user",
		Long: `Resolve the effective permissions of a user from direct and group
grants. With a permission argument, report whether the page guard would
allow it.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.connect()
			if err != nil {
				return err
			}
			rec, err := store.UserByUsername(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("lookup %s: %w", args[0], err)
			}
			agg, err := auth.NewAggregator(store, nil)
			if err != nil {
				return err
			}
			principal, err := agg.Resolve(cmd.Context(), rec.ID)
			if err != nil {
				return fmt.Errorf("%s (status %s): %w", args[0], rec.Status, err)
			}
			out := cmd.OutOrStdout()
			if len(args) == 2 {
				fmt.Fprintf(out, "%s %s: %t\n", principal.Username, args[1], principal.HasPermission(args[1]))
				return nil
			}
			fmt.Fprintf(out, "user:   %s (%s)\n", principal.Username, principal.ID)
			fmt.Fprintf(out, "role:   %s\n", principal.Role)
			fmt.Fprintf(out, "status: %s\n", principal.Status)
			for _, p := range principal.PermissionList() {
				fmt.Fprintf(out, "  %s\n", p)
			}
			return nil
		},
	}
}

// parseExpiry accepts an RFC 3339 timestamp or a duration from now. An empty
// value means no expiry.
func parseExpiry(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("invalid --expires %q: want RFC 3339 or a positive duration", raw)
	}
	t := now.Add(d).UTC()
	return &t, nil
}
