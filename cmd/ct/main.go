package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"controltower/internal/app"
	"controltower/internal/config"
	"controltower/internal/db"
	"controltower/internal/derive"
	"controltower/internal/domain"
	"controltower/internal/engine"
	"controltower/internal/refdata"
	"controltower/internal/repo"
	"controltower/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ct",
	Short: "Control Tower CLI",
	Long: `Control Tower governs delivery orders from a local workspace.
- Workspace: your .controltower directory holding the SQLite database.
- Reference data: orders, task executions, the task dictionary, hold
  reasons and credentials, imported from workbook CSV exports.
- Derived views: ageing, effective RAG, milestone position and team
  routing are computed on read, never stored.
- Tickets: customer issues that flow Open -> Acknowledged -> In Progress
  -> Resolved -> Closed, routed to the owning operations team.
- Escalations: program-manager alarms aimed at management targets.
- Event log: diary of every mutation, view with 'ct log tail'.`,
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
	viper.SetEnvPrefix("CONTROLTOWER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "actor login id (defaults to the logged-in session)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(escalationCmd())
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- auth ---

func sessionPath(workspace string) string {
	return filepath.Join(workspace, ".controltower", "session")
}

func savedToken(workspace string) string {
	b, err := os.ReadFile(sessionPath(workspace))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func loginCmd() *cobra.Command {
	var loginID, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loginID == "" || password == "" {
				return fmt.Errorf("--login-id and --password required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Authenticate(ctx, loginID, password)
				if err != nil {
					return err
				}
				workspace := viper.GetString("workspace")
				if err := os.WriteFile(sessionPath(workspace), []byte(s.Token), 0o600); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&loginID, "login-id", "", "login id")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("login-id")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			token := savedToken(workspace)
			if token == "" {
				fmt.Println("no active session")
				return nil
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Logout(ctx, token); err != nil {
					return err
				}
				if err := os.Remove(sessionPath(workspace)); err != nil && !os.IsNotExist(err) {
					return err
				}
				fmt.Println("logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

// currentSession resolves the stored session token, falling back to the
// --actor flag for scripted use.
func currentSession(ctx context.Context, a *app.App) (domain.Session, error) {
	workspace := viper.GetString("workspace")
	if token := savedToken(workspace); token != "" {
		s, err := a.Engine.SessionByToken(ctx, token)
		if err == nil {
			return s, nil
		}
		var ae *engine.AuthenticationError
		if !errors.As(err, &ae) {
			return domain.Session{}, err
		}
		// Stored token expired; fall through to --actor.
	}
	if actor := viper.GetString("actor"); actor != "" {
		return a.Engine.SessionFor(actor)
	}
	return domain.Session{}, fmt.Errorf("not logged in: run 'ct login' or pass --actor")
}

// --- orders ---

func ordersCmd() *cobra.Command {
	orders := &cobra.Command{
		Use:   "orders",
		Short: "Browse orders with derived health",
	}
	orders.AddCommand(ordersListCmd())
	orders.AddCommand(ordersShowCmd())
	return orders
}

func ordersListCmd() *cobra.Command {
	var lifecycles, rags, orderTypes []string
	var slaBreach bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				f := derive.OrderFilter{OrderTypes: orderTypes}
				for _, v := range lifecycles {
					f.Lifecycles = append(f.Lifecycles, domain.Stage(v))
				}
				for _, v := range rags {
					f.RAGs = append(f.RAGs, domain.RAG(v))
				}
				if cmd.Flags().Changed("sla-breach") {
					f.SLABreach = []bool{slaBreach}
				}
				orders := derive.FilterOrders(visibleOrders(a, s), f)
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				now := a.Engine.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Stage", "RAG", "Ageing", "SLA", "Milestone", "Team"})
				for _, o := range orders {
					sla := ""
					if o.SLABreached {
						sla = "BREACHED"
					}
					tw.AppendRow(table.Row{
						o.ID, o.ClientName, o.Lifecycle,
						derive.DerivedRAG(o),
						fmt.Sprintf("%dd", derive.AgeingDays(o, now)),
						sla,
						derive.Milestones[derive.MilestoneIndex(o.Lifecycle)],
						derive.RoutedTeam(o.Lifecycle),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&lifecycles, "lifecycle", nil, "lifecycle stage filter")
	cmd.Flags().StringSliceVar(&rags, "rag", nil, "derived RAG filter (Red, Amber, Green)")
	cmd.Flags().StringSliceVar(&orderTypes, "order-type", nil, "order type filter")
	cmd.Flags().BoolVar(&slaBreach, "sla-breach", false, "only SLA-breached (or --sla-breach=false for clean)")
	return cmd
}

func ordersShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <order-id>",
		Short: "Order deep dive: tasks, milestones, tickets, escalations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				orderID := args[0]
				if s.Persona == domain.PersonaCustomer && s.OrderID != orderID {
					return &engine.ForbiddenError{Reason: "order not visible to this session"}
				}
				o, ok := a.Ref.Order(orderID)
				if !ok {
					return &domain.NotFoundError{Kind: "order", ID: orderID}
				}
				tickets, err := a.Engine.TicketsForOrder(ctx, orderID)
				if err != nil {
					return err
				}
				escalations, err := a.Engine.EscalationsForOrder(ctx, orderID)
				if err != nil {
					return err
				}
				now := a.Engine.Now()
				out := map[string]any{
					"order":       o,
					"ageing_days": derive.AgeingDays(o, now),
					"derived_rag": derive.DerivedRAG(o),
					"milestones":  derive.MilestoneTimeline(o.Lifecycle),
					"routed_team": derive.RoutedTeam(o.Lifecycle),
					"tasks":       a.Ref.TasksForOrder(orderID),
					"tickets":     tickets,
					"escalations": escalations,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Order %s — %s (%s)\n", o.ID, o.ClientName, o.OrderType)
				fmt.Printf("Stage: %s  RAG: %s  Ageing: %dd  Team: %s\n",
					o.Lifecycle, derive.DerivedRAG(o), derive.AgeingDays(o, now), derive.RoutedTeam(o.Lifecycle))
				fmt.Println("Milestones:")
				for _, step := range derive.MilestoneTimeline(o.Lifecycle) {
					mark := " "
					if step.Reached {
						mark = "x"
					}
					cursor := ""
					if step.Current {
						cursor = "  <- current"
					}
					fmt.Printf("  [%s] %s%s\n", mark, step.Name, cursor)
				}
				fmt.Println("Tasks:")
				for _, t := range a.Ref.TasksForOrder(orderID) {
					hold := ""
					if t.HoldReasonCode != "" {
						hold = "  hold=" + derive.DecodeHold(a.Ref, t.HoldReasonCode)
					}
					fmt.Printf("  %s %s [%s] %s%s\n", t.TaskID, t.TaskName, t.Status, t.AssignedTo, hold)
				}
				if len(tickets) > 0 {
					fmt.Println("Tickets:")
					for _, t := range tickets {
						fmt.Printf("  %s [%s] %s\n", t.ID, t.Status, t.Description)
					}
				}
				if len(escalations) > 0 {
					fmt.Println("Escalations:")
					for _, esc := range escalations {
						fmt.Printf("  %s -> %s: %s\n", esc.TaskID, esc.Target, esc.Reason)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func visibleOrders(a *app.App, s domain.Session) []domain.Order {
	orders := a.Ref.Orders()
	if s.Persona != domain.PersonaCustomer {
		return orders
	}
	out := orders[:0]
	for _, o := range orders {
		if o.ID == s.OrderID {
			out = append(out, o)
		}
	}
	return out
}

// --- inbox / summary ---

func inboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "My active tasks and assigned tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				tasks := derive.MyActiveTasks(a.Ref.Tasks(), s.LoginID)
				tickets, err := a.Engine.TicketsForAssignee(ctx, s.LoginID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"assignee": s.LoginID,
					"tasks":    tasks,
					"tickets":  tickets,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Inbox for %s\n", s.LoginID)
				fmt.Println("Tasks in progress:")
				for _, t := range tasks {
					next := "last task in stage"
					if nt, err := derive.NextTask(a.Ref, t.Lifecycle, t.TaskID); err == nil {
						next = "next: " + nt.TaskName
					}
					fmt.Printf("  %s %s %s (%s)\n", t.OrderID, t.TaskID, t.TaskName, next)
				}
				fmt.Println("Tickets:")
				for _, t := range tickets {
					fmt.Printf("  %s [%s] %s — %s\n", t.ID, t.Status, t.OrderID, t.Description)
				}
				return nil
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Portfolio rollup and hold statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				if s.Persona == domain.PersonaCustomer {
					return &engine.ForbiddenError{Reason: "summary is not available to customers"}
				}
				sum := derive.Summarize(a.Ref, a.Engine.Now())
				holds := derive.HoldStats(a.Ref)
				out := map[string]any{"summary": sum, "holds": holds}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Orders: %d  SLA breached: %d  Avg ageing: %.1fd\n",
					sum.TotalOrders, sum.SLABreached, sum.AvgAgeingDays)
				fmt.Println("By stage:")
				for stage, n := range sum.ByStage {
					fmt.Printf("  %s: %d\n", stage, n)
				}
				fmt.Println("By RAG:")
				for rag, n := range sum.ByRAG {
					fmt.Printf("  %s: %d\n", rag, n)
				}
				fmt.Printf("Tasks on hold: %d  escalated: %d\n", sum.TasksOnHold, sum.TasksEscalated)
				if len(holds) > 0 {
					fmt.Println("Holds:")
					for _, h := range holds {
						fmt.Printf("  %s %s (%s): %d\n", h.Code, h.Reason, h.Responsibility, h.Count)
					}
				}
				return nil
			})
		},
	}
}

// --- tickets ---

func ticketCmd() *cobra.Command {
	ticket := &cobra.Command{
		Use:   "ticket",
		Short: "Manage support tickets",
		Long:  "Tickets flow Open -> Acknowledged -> In Progress -> Resolved -> Closed, one step at a time. Resolved tickets close automatically after the configured quiet period.",
	}
	ticket.AddCommand(ticketSubmitCmd())
	ticket.AddCommand(ticketListCmd())
	ticket.AddCommand(ticketShowCmd())
	ticket.AddCommand(ticketTransitionCmd("ack", "Acknowledge an open ticket (claims it when unassigned)", engine.Engine.AcknowledgeTicket))
	ticket.AddCommand(ticketTransitionCmd("start", "Start work on an acknowledged ticket", engine.Engine.StartTicketWork))
	ticket.AddCommand(ticketTransitionCmd("resolve", "Resolve an in-progress ticket", engine.Engine.ResolveTicket))
	ticket.AddCommand(ticketReassignCmd())
	return ticket
}

func ticketSubmitCmd() *cobra.Command {
	var orderID, category, description string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Raise a ticket against an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				target := orderID
				if s.Persona == domain.PersonaCustomer {
					target = s.OrderID
				}
				t, err := a.Engine.SubmitTicket(ctx, engine.SubmitTicketOptions{
					OrderID:     target,
					Customer:    s.POCName,
					Category:    domain.TicketCategory(category),
					Description: description,
					ActorID:     s.LoginID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "order id (ignored for customer sessions)")
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryOther), "ticket category")
	cmd.Flags().StringVar(&description, "description", "", "issue description")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func ticketListCmd() *cobra.Command {
	var scope, orderID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				var tickets []domain.Ticket
				switch {
				case s.Persona == domain.PersonaCustomer:
					tickets, err = a.Engine.TicketsForOrder(ctx, s.OrderID)
				case scope == "mine":
					tickets, err = a.Engine.TicketsForAssignee(ctx, s.LoginID)
				case scope == "team":
					tickets, err = a.Engine.TeamTickets(ctx, s.LoginID)
				default:
					tickets, err = a.Engine.ListTickets(ctx, repo.TicketFilters{
						OrderID: orderID,
						Status:  domain.TicketStatus(status),
					})
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tickets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Order", "Status", "Category", "Team", "Assignee"})
				for _, t := range tickets {
					tw.AppendRow(table.Row{t.ID, t.OrderID, t.Status, t.Category, t.RoutedTeam, t.AssignedTo})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "all", "all, mine or team")
	cmd.Flags().StringVar(&orderID, "order", "", "order id filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func ticketShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show one ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func ticketTransitionCmd(use, short string, op func(engine.Engine, context.Context, string, string) (domain.Ticket, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ticket-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				t, err := op(a.Engine, ctx, args[0], s.LoginID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func ticketReassignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "reassign <ticket-id>",
		Short: "Hand a ticket to another engineer on your team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				t, err := a.Engine.ReassignTicket(ctx, args[0], assignee, s.LoginID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "to", "", "new assignee login id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// --- escalations ---

func escalationCmd() *cobra.Command {
	esc := &cobra.Command{
		Use:   "escalation",
		Short: "Trigger and list escalations",
	}
	esc.AddCommand(escalationTriggerCmd())
	esc.AddCommand(escalationListCmd())
	return esc
}

func escalationTriggerCmd() *cobra.Command {
	var orderID, taskID, target, reason string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Escalate an at-risk task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := currentSession(ctx, a)
				if err != nil {
					return err
				}
				if s.Persona != domain.PersonaProgramManager {
					return &engine.ForbiddenError{Reason: "only program managers escalate"}
				}
				esc, err := a.Engine.TriggerEscalation(ctx, orderID, taskID,
					domain.EscalationTarget(target), reason, s.LoginID)
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "order id")
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&target, "target", string(domain.TargetOperationsManager), "escalation target")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func escalationListCmd() *cobra.Command {
	var orderID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var escs []domain.Escalation
				var err error
				if orderID != "" {
					escs, err = a.Engine.EscalationsForOrder(ctx, orderID)
				} else {
					escs, err = a.Engine.ListEscalations(ctx)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(escs)
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "order id filter")
	return cmd
}

// --- data ---

func dataCmd() *cobra.Command {
	data := &cobra.Command{
		Use:   "data",
		Short: "Reference data management",
	}
	data.AddCommand(dataImportCmd())
	return data
}

func dataImportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import workbook CSV exports into the reference tables",
		Long:  "Replaces all five reference tables atomically from a directory containing orders.csv, task_executions.csv, task_dictionary.csv, hold_reasons.csv and credentials.csv.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.OpenForImport(workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			if dir == "" {
				dir = a.Config.Data.WorkbookDir
			}
			if dir == "" {
				return fmt.Errorf("--dir required (or set data.workbook_dir in %s)", config.Path(workspace))
			}
			actor := viper.GetString("actor")
			if actor == "" {
				actor = "local-admin"
			}
			sum, err := refdata.ImportWorkbook(cmd.Context(), a.DB, dir, actor, time.Now)
			if err != nil {
				return err
			}
			return printJSONOrTable(sum)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of workbook CSV exports")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of every mutation: logins, imports, ticket and escalation changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.TailEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Listen
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			if basePath == "" {
				basePath = "/v1"
			}
			secret := a.Config.Server.JWTSecret
			if env := os.Getenv("CONTROLTOWER_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("a JWT secret is required: set server.jwt_secret or CONTROLTOWER_JWT_SECRET")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
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
			fmt.Printf("Serving Control Tower API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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
