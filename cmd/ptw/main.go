package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gridpermit/internal/app"
	"gridpermit/internal/db"
	"gridpermit/internal/domain"
	"gridpermit/internal/engine"
	"gridpermit/internal/migrate"
	"gridpermit/internal/repo"
	"gridpermit/internal/server"
	"gridpermit/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "ptw",
	Short: "GridPermit CLI",
	Long: `GridPermit manages Permit To Work records for distribution grid field work.
A permit moves through a fixed approval chain before any crew touches a line:
- Draft: the Line Superintendent (LS) describes the work, crew and window.
- Submitted / SDO review: the Sub-Divisional Officer screens and forwards.
- XEN review: the Executive Engineer approves, rejects or asks for changes.
- PDC issuance: Power Dispatch Control issues isolation and earthing points.
- Grid pre-execution: the Grid In-charge confirms the safety checklist.
- Pre-start: the crew signs the roster and confirms PPE on site.
- In progress: work runs; it can pause, resume or be suspended.
- Completion / Closed: evidence is recorded and a supervisor closes out.
Every state change is role-gated and appended to the permit's audit trail.`,
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
	viper.SetEnvPrefix("GRIDPERMIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-role", "", "workflow role to act as (ls, sdo, xen, pdc, grid, crew, supervisor, admin)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(permitCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var utilityID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create gridpermit.yml in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitWorkspace(viper.GetString("workspace"), utilityID)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&utilityID, "utility", "local-utility", "utility id")
	return cmd
}

func permitCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "permit",
		Short: "Manage permits",
		Long:  "Permits are the work authorizations. Draft one, submit it, and walk it through the approval chain with 'ptw permit transition'.",
	}
	p.AddCommand(permitCreateCmd())
	p.AddCommand(permitListCmd())
	p.AddCommand(permitGetCmd())
	p.AddCommand(permitTransitionCmd())
	p.AddCommand(permitHistoryCmd())
	p.AddCommand(permitProgressCmd())
	p.AddCommand(permitActionsCmd())
	return p
}

func permitCreateCmd() *cobra.Command {
	var opts engine.PermitCreateOptions
	var crew []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Draft a permit",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.CrewMembers = crew
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePermit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "permit id (optional, generated if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Category, "category", "maintenance", "category (maintenance, construction, emergency, testing)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.Likelihood, "likelihood", 1, "risk likelihood 1-5")
	cmd.Flags().IntVar(&opts.Severity, "severity", 1, "risk severity 1-5")
	cmd.Flags().StringVar(&opts.Region, "region", "", "region")
	cmd.Flags().StringVar(&opts.Circle, "circle", "", "circle")
	cmd.Flags().StringVar(&opts.Division, "division", "", "division")
	cmd.Flags().StringVar(&opts.SubDivision, "sub-division", "", "sub-division")
	cmd.Flags().StringVar(&opts.Feeder, "feeder", "", "feeder")
	cmd.Flags().StringVar(&opts.AssetType, "asset-type", "", "asset type (feeder, transformer, line, ...)")
	cmd.Flags().StringVar(&opts.AssetID, "asset-id", "", "asset id")
	cmd.Flags().StringVar(&opts.CrewLead, "crew-lead", "", "crew lead name")
	cmd.Flags().StringArrayVar(&crew, "crew-member", []string{}, "crew member name (repeatable)")
	cmd.Flags().StringVar(&opts.WindowStart, "window-start", "", "work window start (RFC3339)")
	cmd.Flags().StringVar(&opts.WindowEnd, "window-end", "", "work window end (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func permitListCmd() *cobra.Command {
	var f repo.PermitFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List permits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				permits, err := e.Repo.ListPermits(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(permits)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Risk", "Region", "Crew Lead", "Window"})
				for _, p := range permits {
					window := ""
					if p.WindowStart != "" {
						window = p.WindowStart + " .. " + p.WindowEnd
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.State, p.RiskBand, p.Region, p.CrewLead, window})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().StringVar(&f.Region, "region", "", "region filter")
	cmd.Flags().StringVar(&f.CrewMember, "crew-member", "", "crew member filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func permitGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get permit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPermit(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func permitTransitionCmd() *cobra.Command {
	var action, notes string
	var version int64
	var issuanceJSON, safetyJSON, preStartJSON, evidenceJSON string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Apply a workflow action",
		Long: `Apply one lifecycle action as the role given by --actor-role.
Payload blocks are passed as JSON, for example:
  ptw permit transition <id> --actor-role pdc --action issue \
    --issuance-json '{"dispatcher":"pdc-op-7","valid_from":"...","valid_to":"...","isolation_points":["CB-11"],"earthing_points":["E-204"]}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			role := workflow.Role(viper.GetString("actor-role"))
			if role == "" {
				return fmt.Errorf("--actor-role required")
			}
			pl := workflow.Payload{Notes: notes}
			if issuanceJSON != "" {
				pl.Issuance = &domain.Issuance{}
				if err := json.Unmarshal([]byte(issuanceJSON), pl.Issuance); err != nil {
					return fmt.Errorf("invalid --issuance-json: %w", err)
				}
			}
			if safetyJSON != "" {
				pl.Safety = &domain.SafetyChecklist{}
				if err := json.Unmarshal([]byte(safetyJSON), pl.Safety); err != nil {
					return fmt.Errorf("invalid --safety-json: %w", err)
				}
			}
			if preStartJSON != "" {
				pl.PreStart = &domain.PreStart{}
				if err := json.Unmarshal([]byte(preStartJSON), pl.PreStart); err != nil {
					return fmt.Errorf("invalid --pre-start-json: %w", err)
				}
			}
			if evidenceJSON != "" {
				pl.Evidence = &domain.Evidence{}
				if err := json.Unmarshal([]byte(evidenceJSON), pl.Evidence); err != nil {
					return fmt.Errorf("invalid --evidence-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Transition(ctx, id, viper.GetString("actor-id"), role, workflow.Action(action), pl, version)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "workflow action (submit, forward, approve, reject, issue, activate, start, pause, resume, suspend, complete, finalize, hold, cancel, request_changes, request_fixes, return)")
	cmd.Flags().StringVar(&notes, "notes", "", "decision notes")
	cmd.Flags().Int64Var(&version, "version", 0, "expected permit version (0 = current)")
	cmd.Flags().StringVar(&issuanceJSON, "issuance-json", "", "issuance block JSON")
	cmd.Flags().StringVar(&safetyJSON, "safety-json", "", "safety checklist JSON")
	cmd.Flags().StringVar(&preStartJSON, "pre-start-json", "", "pre-start block JSON")
	cmd.Flags().StringVar(&evidenceJSON, "evidence-json", "", "completion evidence JSON")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func permitHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a permit's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListHistory(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Actor", "Role", "Action", "From", "To", "Notes"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.TS, h.ActorID, h.ActorRole, h.Action, h.FromState, h.ToState, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func permitProgressCmd() *cobra.Command {
	var notes string
	var photos []string
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Append or list progress updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if notes != "" {
					u, err := e.AddProgress(ctx, id, viper.GetString("actor-id"), notes, photos)
					if err != nil {
						return err
					}
					return printJSONOrTable(u)
				}
				items, err := e.Repo.ListProgress(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "progress notes (omit to list)")
	cmd.Flags().StringArrayVar(&photos, "photo", []string{}, "photo reference (repeatable)")
	return cmd
}

func permitActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions <id>",
		Short: "Show actions the current role may take",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			role := workflow.Role(viper.GetString("actor-role"))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPermit(ctx, id)
				if err != nil {
					return err
				}
				actions := workflow.PermittedActions(workflow.State(p.State), role)
				return printJSONOrTable(map[string]any{
					"permit_id": p.ID,
					"state":     p.State,
					"role":      role,
					"actions":   actions,
				})
			})
		},
	}
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{
		Use:   "org",
		Short: "Manage the utility hierarchy",
		Long:  "Org units form the region > circle > division > sub_division > feeder > transformer tree that permits reference.",
	}
	org.AddCommand(orgAddCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgDeleteCmd())
	return org
}

func orgDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an org unit (must have no children)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteOrgUnit(ctx, args[0])
			})
		},
	}
	return cmd
}

func orgAddCmd() *cobra.Command {
	var kind, name, parentID, code string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an org unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateOrgUnit(ctx, kind, name, parentID, code)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "unit kind (region, circle, division, sub_division, feeder, transformer)")
	cmd.Flags().StringVar(&name, "name", "", "unit name")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent unit id")
	cmd.Flags().StringVar(&code, "code", "", "utility code")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func orgListCmd() *cobra.Command {
	var kind, parentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List org units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListOrgUnits(ctx, kind, parentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Name", "Parent", "Code"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Kind, u.Name, u.ParentID, u.Code})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent filter")
	return cmd
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}
	acc.AddCommand(accountAddCmd())
	acc.AddCommand(accountListCmd())
	acc.AddCommand(accountSetCmd())
	return acc
}

func accountSetCmd() *cobra.Command {
	var role, region string
	var activate, deactivate bool
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update an account's role, region or active flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rolePtr, regionPtr *string
			var activePtr *bool
			if cmd.Flags().Changed("role") {
				rolePtr = &role
			}
			if cmd.Flags().Changed("region") {
				regionPtr = &region
			}
			if activate && deactivate {
				return fmt.Errorf("--activate and --deactivate are mutually exclusive")
			}
			if activate {
				v := true
				activePtr = &v
			}
			if deactivate {
				v := false
				activePtr = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateAccount(ctx, args[0], rolePtr, regionPtr, activePtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "new workflow role")
	cmd.Flags().StringVar(&region, "region", "", "new home region")
	cmd.Flags().BoolVar(&activate, "activate", false, "re-enable the account")
	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "disable the account")
	return cmd
}

func accountAddCmd() *cobra.Command {
	var id, name, role, phone, region string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAccount(ctx, id, name, workflow.Role(role), phone, region)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "workflow role")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringVar(&region, "region", "", "home region")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func accountListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAccounts(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Region", "Active"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.Region, a.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "api-key",
		Short: "Manage API keys",
	}
	key.AddCommand(apiKeyCreateCmd())
	key.AddCommand(apiKeyListCmd())
	key.AddCommand(apiKeyDeleteCmd())
	return key
}

func apiKeyCreateCmd() *cobra.Command {
	var accountID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key (plaintext shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := e.IssueAPIKey(ctx, accountID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":         key.ID,
					"account_id": key.AccountID,
					"key":        plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, accountID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func dashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Permit counts by state and risk band",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Dashboard(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Println("Permits by state:")
				for state, c := range d.ByState {
					fmt.Printf("  %s: %d\n", state, c)
				}
				fmt.Println("Permits by risk band:")
				for band, c := range d.ByRiskBand {
					fmt.Printf("  %s: %d\n", band, c)
				}
				fmt.Println("Permits by region:")
				for region, c := range d.ByRegion {
					if region == "" {
						region = "(none)"
					}
					fmt.Printf("  %s: %d\n", region, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: permit transitions, progress notes, account changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, permitID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entityKind := ""
				if permitID != "" {
					entityKind = "permit"
				}
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, permitID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&permitID, "permit", "", "permit id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace, "")
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GRIDPERMIT_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GRIDPERMIT_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving GridPermit API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace, "")
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
