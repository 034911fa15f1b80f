package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fairlance/internal/config"
	"fairlance/internal/db"
	"fairlance/internal/domain"
	"fairlance/internal/engine"
	"fairlance/internal/engine/policy"
	"fairlance/internal/migrate"
	"fairlance/internal/payment"
	"fairlance/internal/repo"
	"fairlance/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fairlance CLI",
	Long: `Fairlance runs the engagement workflow between clients and workers.
An engagement is created from an accepted proposal with a milestone plan;
the worker delivers milestone by milestone while the client funds escrow
and releases payment. Both parties rate each other once work concludes.`,
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
	viper.SetEnvPrefix("FAIRLANCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-role", "", "actor role (client or worker)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(engagementCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(ratingCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var platformID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(platformID)), 0o644); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Printf("Initialized workspace; config at %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&platformID, "platform", "fairlance-local", "platform id")
	return cmd
}

func proposalCmd() *cobra.Command {
	prp := &cobra.Command{Use: "proposal", Short: "Manage the proposal catalog"}
	prp.AddCommand(proposalSeedCmd())
	prp.AddCommand(proposalListCmd())
	return prp
}

func proposalSeedCmd() *cobra.Command {
	var id, jobID, clientID, workerID, title, status string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed an accepted proposal into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" || workerID == "" {
				return fmt.Errorf("--client and --worker required")
			}
			if id == "" {
				id = uuid.NewString()
			}
			if jobID == "" {
				jobID = uuid.NewString()
			}
			p := domain.Proposal{
				ID:        id,
				JobID:     jobID,
				ClientID:  clientID,
				WorkerID:  workerID,
				Title:     title,
				Status:    status,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertProposal(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "proposal id (generated if empty)")
	cmd.Flags().StringVar(&jobID, "job", "", "job id (generated if empty)")
	cmd.Flags().StringVar(&clientID, "client", "", "client actor id")
	cmd.Flags().StringVar(&workerID, "worker", "", "worker actor id")
	cmd.Flags().StringVar(&title, "title", "", "proposal title")
	cmd.Flags().StringVar(&status, "status", "accepted", "proposal status")
	return cmd
}

func proposalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProposals(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Job", "Client", "Worker", "Status", "Title"})
				for _, p := range items {
					t.AppendRow(table.Row{p.ID, p.JobID, p.ClientID, p.WorkerID, p.Status, p.Title})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func engagementCmd() *cobra.Command {
	eng := &cobra.Command{Use: "engagement", Short: "Manage engagements"}
	eng.AddCommand(engagementCreateCmd())
	eng.AddCommand(engagementListCmd())
	eng.AddCommand(engagementShowCmd())
	eng.AddCommand(engagementReplacePlanCmd())
	return eng
}

// parseMilestoneFlags turns repeated --milestone "Title:amount[:due]" flags
// into a plan. Amounts are integer minor units (cents).
func parseMilestoneFlags(specs []string) ([]engine.MilestonePlanItem, error) {
	var plan []engine.MilestonePlanItem
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("milestone %q: expected title:amount[:due]", spec)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("milestone %q: invalid amount: %w", spec, err)
		}
		item := engine.MilestonePlanItem{
			Title:  strings.TrimSpace(parts[0]),
			Amount: amount,
		}
		if len(parts) == 3 {
			item.DueDate = strings.TrimSpace(parts[2])
		}
		plan = append(plan, item)
	}
	return plan, nil
}

func engagementCreateCmd() *cobra.Command {
	var proposalID, expectedEnd, planFile string
	var milestones []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create engagement from an accepted proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if proposalID == "" {
				return fmt.Errorf("--proposal required")
			}
			plan, err := parseMilestoneFlags(milestones)
			if err != nil {
				return err
			}
			if planFile != "" {
				data, err := os.ReadFile(planFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &plan); err != nil {
					return fmt.Errorf("invalid plan file: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.CreateEngagement(ctx, engine.EngagementCreateOptions{
					ProposalID:      proposalID,
					Plan:            plan,
					ExpectedEndDate: expectedEnd,
					Actor:           cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&proposalID, "proposal", "", "accepted proposal id")
	cmd.Flags().StringArrayVar(&milestones, "milestone", nil, "milestone as title:amount[:due], repeatable")
	cmd.Flags().StringVar(&planFile, "plan-file", "", "JSON file with the milestone plan")
	cmd.Flags().StringVar(&expectedEnd, "expected-end", "", "expected end date (RFC3339)")
	return cmd
}

func engagementListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List my engagements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEngagements(ctx, cliActor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Status", "Escrow", "Total", "Funded", "Paid", "Milestones"})
				for _, eng := range items {
					t.AppendRow(table.Row{
						eng.ID, eng.Status, eng.EscrowStatus,
						formatAmount(eng.TotalAmount), formatAmount(eng.EscrowTotalFunded), formatAmount(eng.AmountPaid),
						len(eng.Milestones),
					})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func engagementShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.GetEngagement(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(eng)
				}
				fmt.Printf("Engagement %s  status=%s escrow=%s version=%d\n", eng.ID, eng.Status, eng.EscrowStatus, eng.Version)
				fmt.Printf("Client %s  Worker %s  Total %s  Funded %s  Paid %s\n",
					eng.ClientID, eng.WorkerID,
					formatAmount(eng.TotalAmount), formatAmount(eng.EscrowTotalFunded), formatAmount(eng.AmountPaid))
				t := newTable()
				t.AppendHeader(table.Row{"#", "Title", "Amount", "Work", "Escrow", "Due"})
				for i, m := range eng.Milestones {
					t.AppendRow(table.Row{i, m.Title, formatAmount(m.Amount), m.WorkStatus, m.EscrowStatus, m.DueDate})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func engagementReplacePlanCmd() *cobra.Command {
	var planFile string
	var milestones []string
	cmd := &cobra.Command{
		Use:   "replace-plan <id>",
		Short: "Replace the milestone plan (before any funding or submission)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := parseMilestoneFlags(milestones)
			if err != nil {
				return err
			}
			if planFile != "" {
				data, err := os.ReadFile(planFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &plan); err != nil {
					return fmt.Errorf("invalid plan file: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.ReplaceMilestonePlan(ctx, args[0], plan, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringArrayVar(&milestones, "milestone", nil, "milestone as title:amount[:due], repeatable")
	cmd.Flags().StringVar(&planFile, "plan-file", "", "JSON file with the milestone plan")
	return cmd
}

func milestoneCmd() *cobra.Command {
	mst := &cobra.Command{Use: "milestone", Short: "Drive milestone work and escrow"}
	mst.AddCommand(milestoneAdvanceCmd("start", "Start work on a milestone", domain.WorkInProgress))
	mst.AddCommand(milestoneSubmitCmd())
	mst.AddCommand(milestoneRequestRevisionCmd())
	mst.AddCommand(milestoneFundCmd())
	mst.AddCommand(milestoneReleaseCmd())
	return mst
}

func milestoneAdvanceCmd(use, short string, target domain.WorkStatus) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <engagement-id> <index>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid milestone index %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.AdvanceMilestone(ctx, args[0], index, target, engine.MilestoneAdvancePayload{}, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	return cmd
}

func milestoneSubmitCmd() *cobra.Command {
	var submissionURL string
	cmd := &cobra.Command{
		Use:   "submit <engagement-id> <index>",
		Short: "Submit milestone work for review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid milestone index %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.AdvanceMilestone(ctx, args[0], index, domain.WorkCompleted,
					engine.MilestoneAdvancePayload{SubmissionURL: submissionURL}, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&submissionURL, "url", "", "submission url")
	return cmd
}

func milestoneRequestRevisionCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "request-revision <engagement-id> <index>",
		Short: "Send submitted work back for revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid milestone index %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.AdvanceMilestone(ctx, args[0], index, domain.WorkRevisionRequested,
					engine.MilestoneAdvancePayload{Feedback: feedback}, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "revision feedback")
	return cmd
}

func milestoneFundCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "fund <engagement-id> <index>",
		Short: "Fund a milestone's escrow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid milestone index %q", args[1])
			}
			if amount <= 0 {
				return fmt.Errorf("--amount required (minor units)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.FundMilestone(ctx, args[0], index, amount, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "deposit amount in minor units; must match the milestone amount")
	return cmd
}

func milestoneReleaseCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "release <engagement-id> <index>",
		Short: "Release a funded milestone's escrow to the worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid milestone index %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.ReleaseMilestone(ctx, args[0], index, feedback, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "acceptance feedback")
	return cmd
}

func ratingCmd() *cobra.Command {
	rtg := &cobra.Command{Use: "rating", Short: "Rate the other party"}
	var score int
	var review string
	submit := &cobra.Command{
		Use:   "submit <engagement-id>",
		Short: "Submit a rating (once per side)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.SubmitRating(ctx, args[0], score, review, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	submit.Flags().IntVar(&score, "score", 0, "score 1-5")
	submit.Flags().StringVar(&review, "review", "", "review text")
	_ = submit.MarkFlagRequired("score")
	rtg.AddCommand(submit)
	return rtg
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, engagementID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEventsFrom(ctx, n, 0, engagementID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "TS", "Type", "Engagement", "Actor"})
				for _, evt := range events {
					t.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EngagementID, evt.ActorID})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&engagementID, "engagement", "", "engagement id filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			rawKey := "flk_" + hex.EncodeToString(raw)
			k := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actorID,
				Role:      role,
				Name:      name,
				KeyHash:   repo.HashAPIKey(rawKey),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				fmt.Printf("API key created for %s (id=%s)\n", k.ActorID, k.ID)
				fmt.Printf("Key (store it now, it is not shown again): %s\n", rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role (client or worker)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range items {
					t.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
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
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, payment.NewSimulated())
			authCfg := server.AuthConfig{
				JWTSecret:                os.Getenv("FAIRLANCE_JWT_SECRET"),
				AllowInsecureActorHeader: cfg.Auth.AllowInsecureActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowInsecureActorHeader {
				return fmt.Errorf("FAIRLANCE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(cmd.Context(), server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Fairlance API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("fairlance-local")
	}
	return cfg, nil
}

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
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, payment.NewSimulated())
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func cliActor() policy.Actor {
	return policy.Actor{
		ID:   viper.GetString("actor-id"),
		Role: viper.GetString("actor-role"),
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
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
