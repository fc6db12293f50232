package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ideaflow/internal/analysis"
	"ideaflow/internal/app"
	"ideaflow/internal/config"
	"ideaflow/internal/domain"
	"ideaflow/internal/engine"
	"ideaflow/internal/identity"
	"ideaflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ideaflow",
	Short: "Ideaflow CLI",
	Long: `Ideaflow scores HR improvement ideas and routes them through approval.
Core concepts:
- Idea: what a submitter proposes (description, objective, optional value estimates).
- Analysis: a business value score from 1 to 10, a justification and a drafted statement of work.
- Initiative: an idea with its analysis, moving pending_approval -> approved or rejected.
- PO: the product owner role; only a PO approves, rejects or deletes.
- Resubmission: a submitter editing their rejected idea sends it back to pending_approval.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("IDEAFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.FileName, "config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "username acting on initiatives")
	rootCmd.PersistentFlags().String("storage-backend", "", "override storage.backend (sqlite or jsonfile)")
	rootCmd.PersistentFlags().String("storage-path", "", "override storage.path")
	rootCmd.PersistentFlags().String("users-file", "", "override auth.users_file")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
	for _, name := range []string{"config", "json", "as", "storage-backend", "storage-path", "users-file", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(initiativeCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devMode bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if cmd.Flags().Changed("addr") {
					a.Config.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					a.Config.Server.BasePath = basePath
				}
				if cmd.Flags().Changed("dev-mode") {
					a.Config.Server.DevMode = devMode
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Identity: a.Identity,
					EventLog: a.EventLog,
					BasePath: a.Config.Server.BasePath,
					DevMode:  a.Config.Server.DevMode,
					Logger:   a.Logger,
				})
				if err != nil {
					return err
				}
				if a.EventLog != nil && len(a.Config.Webhooks) > 0 {
					d := server.NewWebhookDispatcher(a.EventLog, a.Config.Webhooks, a.Logger)
					go d.Run(ctx)
				}
				srv := &http.Server{Addr: a.Config.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving ideaflow API",
					"addr", "http://"+a.Config.Server.Addr+a.Config.Server.BasePath,
					"backend", a.Config.Storage.Backend,
					"docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	cmd.Flags().BoolVar(&devMode, "dev-mode", false, "expose internal error details")
	return cmd
}

// ideaFlags collects an idea from flags or a YAML file.
type ideaFlags struct {
	file          string
	title         string
	description   string
	objective     string
	businessValue float64
	monetaryValue float64
	features      string
	persons       string
	areas         string
	clients       []string
}

func (f *ideaFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the idea from a YAML file")
	cmd.Flags().StringVar(&f.title, "title", "", "idea title")
	cmd.Flags().StringVar(&f.description, "description", "", "idea description")
	cmd.Flags().StringVar(&f.objective, "objective", "", "business objective")
	cmd.Flags().Float64Var(&f.businessValue, "business-value", 0, "submitter's own score (1-10)")
	cmd.Flags().Float64Var(&f.monetaryValue, "monetary-value", 0, "estimated value in thousands")
	cmd.Flags().StringVar(&f.features, "features", "", "principal features, one per line")
	cmd.Flags().StringVar(&f.persons, "persons", "", "persons affected")
	cmd.Flags().StringVar(&f.areas, "areas", "", "business areas affected")
	cmd.Flags().StringArrayVar(&f.clients, "client", nil, "platform client impacted (repeatable)")
}

// idea applies the file, then any flags set on the command, over base.
func (f *ideaFlags) idea(cmd *cobra.Command, base domain.Idea) (domain.Idea, error) {
	idea := base
	if f.file != "" {
		idea = domain.Idea{}
		data, err := os.ReadFile(f.file)
		if err != nil {
			return idea, err
		}
		if err := yaml.Unmarshal(data, &idea); err != nil {
			return idea, fmt.Errorf("parse %s: %w", f.file, err)
		}
	}
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("title", &idea.Title, f.title)
	set("description", &idea.IdeaDescription, f.description)
	set("objective", &idea.BusinessObjective, f.objective)
	set("features", &idea.PrincipalFeatures, f.features)
	set("persons", &idea.PersonsAffected, f.persons)
	set("areas", &idea.BusinessAreasAffected, f.areas)
	if cmd.Flags().Changed("business-value") {
		v := f.businessValue
		idea.BusinessValue = &v
	}
	if cmd.Flags().Changed("monetary-value") {
		v := f.monetaryValue
		idea.MonetaryValue = &v
	}
	if cmd.Flags().Changed("client") {
		idea.PlatformClientsImpacted = f.clients
	}
	return idea, nil
}

func analyzeCmd() *cobra.Command {
	var flags ideaFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score an idea and print its statement of work",
		RunE: func(cmd *cobra.Command, args []string) error {
			idea, err := flags.idea(cmd, domain.Idea{})
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			result, err := app.NewAnalyzer(cfg, app.NewLogger(cfg.Log, os.Stderr)).Analyze(cmd.Context(), idea)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(result)
			}
			band := domain.BandForScore(result.BusinessValueScore)
			fmt.Printf("Score: %d/10 (%s, %s)\n", result.BusinessValueScore, band.Label, band.Range)
			fmt.Printf("Cost saving: %t\n", result.CostSaving)
			fmt.Printf("Justification: %s\n\n", result.BusinessValueJustification)
			fmt.Println(result.StatementOfWork)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func initiativeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "initiative", Aliases: []string{"initiatives", "in"}, Short: "Manage initiatives"}
	cmd.AddCommand(initiativeListCmd())
	cmd.AddCommand(initiativeShowCmd())
	cmd.AddCommand(initiativeSubmitCmd())
	cmd.AddCommand(initiativeEditCmd())
	cmd.AddCommand(initiativeApproveCmd())
	cmd.AddCommand(initiativeRejectCmd())
	cmd.AddCommand(initiativeDeleteCmd())
	cmd.AddCommand(initiativeEventsCmd())
	return cmd
}

func initiativeListCmd() *cobra.Command {
	var status, submittedBy string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List initiatives, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.List(ctx, status, submittedBy)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Score", "Band", "Submitted By", "Submitted At"})
				for _, in := range items {
					band := domain.BandForScore(in.Analysis.BusinessValueScore)
					tw.AppendRow(table.Row{in.ID, in.Idea.Title, in.Status, in.Analysis.BusinessValueScore, band.Label, in.SubmittedBy, in.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "status filter (pending_approval, approved, rejected, all)")
	cmd.Flags().StringVar(&submittedBy, "submitted-by", "", "submitter filter")
	return cmd
}

func initiativeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an initiative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in, err := a.Engine.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(in)
			})
		},
	}
}

func initiativeSubmitCmd() *cobra.Command {
	var flags ideaFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an idea for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			idea, err := flags.idea(cmd, domain.Idea{})
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.User) error {
				in, err := a.Engine.Submit(ctx, engine.SubmitOptions{Idea: idea, Actor: actor})
				if err != nil {
					return err
				}
				return printResult(in)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func initiativeEditCmd() *cobra.Command {
	var flags ideaFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit your own pending or rejected initiative",
		Long:  "Edit your own pending or rejected initiative. The edited idea is analyzed again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.User) error {
				cur, err := a.Engine.Get(ctx, args[0])
				if err != nil {
					return err
				}
				idea, err := flags.idea(cmd, cur.Idea.Clone())
				if err != nil {
					return err
				}
				in, err := a.Engine.Edit(ctx, args[0], actor, &idea, nil)
				if err != nil {
					return err
				}
				return printResult(in)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func initiativeApproveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve an initiative (PO only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.User) error {
				in, err := a.Engine.Approve(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printResult(in)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "approval reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func initiativeRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject an initiative (PO only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.User) error {
				in, err := a.Engine.Reject(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printResult(in)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func initiativeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an initiative (PO only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.User) error {
				removed, err := a.Engine.Delete(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(removed)
				}
				fmt.Printf("Deleted %s (%s)\n", removed.ID, removed.Idea.Title)
				return nil
			})
		},
	}
}

func initiativeEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Show the lifecycle events of an initiative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.EventLog == nil {
					return fmt.Errorf("event history requires the %s storage backend", config.BackendSQLite)
				}
				history, err := a.EventLog.ForInitiative(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Time", "Type", "Actor", "Payload"})
				for _, evt := range history {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.Actor, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage the users file"}
	cmd.AddCommand(userHashPasswordCmd())
	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for the users file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := identity.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func userAddCmd() *cobra.Command {
	var rec identity.UserRecord
	var password, role string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user to the users file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records, err := identity.ReadUsersFile(cfg.Auth.UsersFile)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			hash, err := identity.HashPassword(password)
			if err != nil {
				return err
			}
			rec.Username = args[0]
			rec.Role = domain.Role(strings.ToUpper(role))
			rec.PasswordHash = hash
			records = append(records, rec)
			// Validates role and uniqueness before anything is written.
			if _, err := identity.NewDirectory(records); err != nil {
				return err
			}
			if err := identity.WriteUsersFile(cfg.Auth.UsersFile, records); err != nil {
				return err
			}
			fmt.Printf("Added %s (%s) to %s\n", rec.Username, rec.Role, cfg.Auth.UsersFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleUser), "PO or USER")
	cmd.Flags().StringVar(&rec.Name, "name", "", "display name")
	cmd.Flags().StringVar(&rec.Email, "email", "", "email")
	cmd.Flags().StringVar(&rec.ID, "id", "", "user id (defaults to the username)")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records, err := identity.ReadUsersFile(cfg.Auth.UsersFile)
			if err != nil {
				return err
			}
			users := make([]domain.User, 0, len(records))
			for _, r := range records {
				users = append(users, r.User())
			}
			if viper.GetBool("json") {
				return printJSON(users)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Username", "Role", "Name", "Email"})
			for _, u := range users {
				tw.AppendRow(table.Row{u.Username, u.Role, u.Name, u.Email})
			}
			tw.Render()
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage ideaflow.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configObjectivesCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func configObjectivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objectives",
		Short: "List accepted business objectives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, obj := range cfg.Analysis.Objectives {
				marker := ""
				if analysis.IsCostSaving("", obj) {
					marker = " (cost saving)"
				}
				fmt.Printf("- %s%s\n", obj, marker)
			}
			return nil
		},
	}
}

// --- helpers ---

// loadConfig reads the config file and applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("storage-backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := viper.GetString("storage-path"); v != "" {
		cfg.Storage.Path = v
	}
	if v := viper.GetString("users-file"); v != "" {
		cfg.Auth.UsersFile = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, app.NewLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withActor(ctx context.Context, fn func(context.Context, *app.App, domain.User) error) error {
	username := strings.TrimSpace(viper.GetString("as"))
	if username == "" {
		return fmt.Errorf("--as (or IDEAFLOW_AS) is required")
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		actor, err := a.Actor(username)
		if err != nil {
			return err
		}
		return fn(ctx, a, actor)
	})
}

func printResult(in domain.Initiative) error {
	if viper.GetBool("json") {
		return printJSON(in)
	}
	fmt.Printf("%s  %s  [%s]  score %d\n", in.ID, in.Idea.Title, in.Status, in.Analysis.BusinessValueScore)
	if in.ADOWorkItemID != nil {
		fmt.Printf("Work item: %d\n", *in.ADOWorkItemID)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
