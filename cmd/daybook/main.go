package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"daybook/internal/config"
	"daybook/internal/db"
	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/migrate"
	"daybook/internal/resource"
	"daybook/internal/seed"
	"daybook/internal/server"
	"daybook/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "daybook",
	Short: "Daybook personal records server",
	Long: `Daybook serves document-shaped personal records (accounts, events,
projects, timesheets, task timers, users) over HTTP with per-user ownership
and role-based access control.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DAYBOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())
}

// openStore opens the workspace database with migrations applied.
func openStore() (*sql.DB, store.Store, error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, store.Store{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, store.Store{}, err
	}
	return conn, store.New(conn), nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr := viper.GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath := viper.GetString("base-path"); basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if secret := viper.GetString("jwt-secret"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
				return errors.New("jwt secret required; set auth.jwt_secret or DAYBOOK_JWT_SECRET")
			}

			conn, s, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			if _, err := seed.Apply(cmd.Context(), s, cfg.Seed.AdminUsername, cfg.Seed.AdminPassword); err != nil {
				return err
			}

			handler, err := server.New(server.Config{
				Engine:   engine.New(s),
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					TokenTTL:  cfg.Auth.TokenTTL,
				},
			})
			if err != nil {
				return err
			}
			fmt.Printf("daybook listening on %s (base path %s)\n", cfg.Server.Addr, cfg.Server.BasePath)
			return http.ListenAndServe(cfg.Server.Addr, handler)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	cmd.Flags().String("base-path", "", "API base path (overrides config)")
	cmd.Flags().String("jwt-secret", "", "JWT signing secret (overrides config)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("base-path", cmd.Flags().Lookup("base-path"))
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default administrator and event categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			conn, s, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			report, err := seed.Apply(cmd.Context(), s, cfg.Seed.AdminUsername, cfg.Seed.AdminPassword)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return json.NewEncoder(os.Stdout).Encode(report)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Admin created", "Categories created"})
			t.AppendRow(table.Row{report.AdminCreated, report.CategoriesCreated})
			t.Render()
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var (
		username  string
		firstName string
		lastName  string
		password  string
		admin     bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, s, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			ctx := cmd.Context()
			user := store.Document{
				"username":  username,
				"firstName": firstName,
				"lastName":  lastName,
			}
			if admin {
				user["roles"] = []string{domain.RoleAdmin}
			}
			if err := resource.ValidateUser(user); err != nil {
				return err
			}
			if err := resource.EnsureUniqueUsername(ctx, s, user); err != nil {
				return err
			}
			if err := resource.SetPassword(user, password); err != nil {
				return err
			}
			saved, _, err := s.Collection(domain.Users).Save(ctx, user)
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (%s)\n", saved.String("username"), saved.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&firstName, "first", "", "first name")
	cmd.Flags().StringVar(&lastName, "last", "", "last name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, s, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			users, err := s.Collection(domain.Users).Find(cmd.Context(), store.Criteria{})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				sanitized := make([]store.Document, 0, len(users))
				for _, u := range users {
					sanitized = append(sanitized, resource.SanitizeUser(u))
				}
				return json.NewEncoder(os.Stdout).Encode(sanitized)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Username", "First", "Last", "Roles"})
			for _, u := range users {
				t.AppendRow(table.Row{
					u.ID(),
					u.String("username"),
					u.String("firstName"),
					u.String("lastName"),
					strings.Join(userRoles(u), ","),
				})
			}
			t.Render()
			return nil
		},
	}
}

func userRoles(u store.Document) []string {
	switch v := u["roles"].(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return nil
	}
}
