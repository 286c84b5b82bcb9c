package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "qgctl",
	Short: "QueryGate CLI",
	Long:  "A CLI for operating a QueryGate server.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(connectionsCmd())
	rootCmd.AddCommand(permissionsCmd())
	rootCmd.AddCommand(auditCmd())
}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Store the identity used for subsequent commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			cfg.UserID = args[0]
			cfg.Role = strings.ToUpper(role)
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Printf("Identity saved: %s (%s)\n", cfg.UserID, cfg.Role)
			return nil
		},
	}
	cmd.Flags().String("role", "ANALYST", "Role: ADMIN, DEVELOPER or ANALYST")
	return cmd
}

// --- query ---

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Validate and execute SQL against a registered connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID, _ := cmd.Flags().GetInt64("connection")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			client := newClient()
			body := map[string]any{"connection_id": connID, "sql": args[0]}

			path := "/v1/query"
			if dryRun {
				path = "/v1/validate"
			}
			result, err := client.post(path, body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if !dryRun && outputFormat == "table" {
				printRows(result)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().Int64("connection", 0, "Target connection id")
	cmd.Flags().Bool("dry-run", false, "Validate only, do not execute")
	cmd.MarkFlagRequired("connection") //nolint:errcheck
	return cmd
}

// --- schema ---

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <connection-id>",
		Short: "List tables and columns of a registered connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/connections/" + args[0] + "/schema")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- connections ---

func connectionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "connections", Short: "Manage database connections"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/connections")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a database connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbType, _ := cmd.Flags().GetString("type")
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			database, _ := cmd.Flags().GetString("database")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")

			client := newClient()
			result, err := client.post("/v1/connections", map[string]any{
				"name":          args[0],
				"db_type":       dbType,
				"host":          host,
				"port":          port,
				"database_name": database,
				"username":      username,
				"password":      password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("type", "postgres", "Engine type: postgres, mysql or sqlite")
	createCmd.Flags().String("host", "", "Database host")
	createCmd.Flags().Int("port", 0, "Database port")
	createCmd.Flags().String("database", "", "Database name (file path for sqlite)")
	createCmd.Flags().String("username", "", "Database username")
	createCmd.Flags().String("password", "", "Database password")
	createCmd.MarkFlagRequired("database") //nolint:errcheck

	deleteCmd := &cobra.Command{
		Use:   "delete <connection-id>",
		Short: "Delete a connection and close its pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/connections/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Println("Deleted.")
			return nil
		},
	}

	grantCmd := &cobra.Command{
		Use:   "grant <connection-id> <user-id>",
		Short: "Grant a user access to a connection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/connections/"+args[0]+"/grants",
				map[string]any{"user_id": args[1]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <connection-id> <user-id>",
		Short: "Revoke a user's access to a connection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/connections/" + args[0] + "/grants/" + args[1]); err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Println("Revoked.")
			return nil
		},
	}

	cmd.AddCommand(listCmd, createCmd, deleteCmd, grantCmd, revokeCmd)
	return cmd
}

// --- permissions ---

func permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "permissions", Short: "Inspect and edit role permissions"}

	getCmd := &cobra.Command{
		Use:   "get <role>",
		Short: "Show a role's allowed operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/permissions/" + strings.ToUpper(args[0]))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <role> <operation>",
		Short: "Update one role/operation permission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			allowed, _ := cmd.Flags().GetBool("allowed")
			maxRows, _ := cmd.Flags().GetInt("max-rows")

			client := newClient()
			result, err := client.put(
				"/v1/permissions/"+strings.ToUpper(args[0])+"/"+strings.ToUpper(args[1]),
				map[string]any{"allowed": allowed, "max_rows": maxRows})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	setCmd.Flags().Bool("allowed", true, "Whether the operation is allowed")
	setCmd.Flags().Int("max-rows", 0, "Row cap enforced for the operation")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the execution audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			params := []string{"limit=" + strconv.Itoa(limit)}
			if user != "" {
				params = append(params, "user_id="+user)
			}
			if status != "" {
				params = append(params, "status="+strings.ToUpper(status))
			}

			client := newClient()
			result, err := client.get("/v1/audit?" + strings.Join(params, "&"))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("user", "", "Filter by user id")
	cmd.Flags().String("status", "", "Filter by status: SUCCESS, FAILED or BLOCKED")
	cmd.Flags().Int("limit", 50, "Maximum entries")
	return cmd
}
