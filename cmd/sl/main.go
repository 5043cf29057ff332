package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"specline/internal/app"
	"specline/internal/classify"
	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/generate"
	"specline/internal/llm"
	"specline/internal/migrate"
	"specline/internal/repo"
	"specline/internal/resolve"
	"specline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Specline CLI",
	Long: `Specline turns meeting notes into a living requirements baseline and
generates PRD documents from it.
- Workspace: your .specline directory with the database; configs live in the DB
  and are imported explicitly.
- Meetings: imported notes broken into candidate items per category.
- Baseline: the deduplicated, ordered set of requirements with provenance and
  per-entry history.
- Review: a classifier compares candidates against the baseline and proposes
  decisions; resolve applies them atomically.
- Documents: staged generation produces versioned PRDs from the active baseline.
- Event log: diary of changes, view with 'sl log tail'.`,
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
	viper.SetEnvPrefix("SPECLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(meetingCmd())
	rootCmd.AddCommand(baselineCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Stage"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.RequirementsStage})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg := config.Default(id)
			proc := resolve.New(conn, cfg, nil)
			p, err := proc.InitProject(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			cfg.Project.ID = p.ID
			if err := proc.Repo.UpsertProjectConfig(cmd.Context(), p.ID, cfg); err != nil {
				return err
			}
			return printJSONOrIndent(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				proj, err := p.Repo.GetProject(ctx, p.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(proj)
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				return p.Repo.DeleteProject(ctx, p.Config.Project.ID)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SPECLINE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SPECLINE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				return printJSONOrIndent(p.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				if projectID == "" {
					projectID = p.Config.Project.ID
				}
				if err := p.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrIndent(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "See where the project stands: requirements stage, unresolved meetings, baseline size, and finalized documents.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				projectID := p.Config.Project.ID
				proj, err := p.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				unresolved, err := p.Repo.CountUnresolvedMeetings(ctx, projectID)
				if err != nil {
					return err
				}
				active, err := p.Repo.CountActiveBaselineEntries(ctx, projectID)
				if err != nil {
					return err
				}
				finalized, err := p.Repo.CountFinalizedDocuments(ctx, projectID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":          proj.ID,
					"status":              proj.Status,
					"requirements_stage":  proj.RequirementsStage,
					"unresolved_meetings": unresolved,
					"active_entries":      active,
					"finalized_documents": finalized,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", proj.ID, proj.Status)
				fmt.Printf("Requirements stage: %s\n", proj.RequirementsStage)
				fmt.Printf("Unresolved meetings: %d\n", unresolved)
				fmt.Printf("Active baseline entries: %d\n", active)
				fmt.Printf("Finalized documents: %d\n", finalized)
				return nil
			})
		},
	}
	return cmd
}

// meetingFile mirrors the JSON accepted by 'sl meeting import --file'.
type meetingFile struct {
	Title      string `json:"title"`
	OccurredAt string `json:"occurred_at,omitempty"`
	Items      []struct {
		Category    string `json:"category"`
		Content     string `json:"content"`
		SourceQuote string `json:"source_quote,omitempty"`
	} `json:"items"`
}

func meetingCmd() *cobra.Command {
	m := &cobra.Command{Use: "meeting", Short: "Import and resolve meetings"}
	m.AddCommand(meetingImportCmd())
	m.AddCommand(meetingListCmd())
	m.AddCommand(meetingShowCmd())
	m.AddCommand(meetingReviewCmd())
	m.AddCommand(meetingResolveCmd())
	m.AddCommand(meetingDecisionsCmd())
	return m
}

func meetingImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import meeting notes from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var mf meetingFile
			if err := json.Unmarshal(data, &mf); err != nil {
				return fmt.Errorf("invalid meeting file: %w", err)
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				items := make([]resolve.CandidateInput, 0, len(mf.Items))
				for _, it := range mf.Items {
					items = append(items, resolve.CandidateInput{
						Category:    it.Category,
						Content:     it.Content,
						SourceQuote: it.SourceQuote,
					})
				}
				meeting, cands, err := p.ImportMeeting(ctx, resolve.MeetingImportOptions{
					ProjectID:  p.Config.Project.ID,
					Title:      mf.Title,
					OccurredAt: mf.OccurredAt,
					Items:      items,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"meeting": meeting, "items": cands})
				}
				fmt.Printf("Imported meeting %s (%s) with %d candidate items\n", meeting.ID, meeting.Status, len(cands))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to meeting JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func meetingListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				items, err := p.Repo.ListMeetings(ctx, p.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Created"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Title, m.Status, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func meetingShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a meeting and its candidate items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				meeting, err := p.Repo.GetMeeting(ctx, args[0])
				if err != nil {
					return err
				}
				items, err := p.Repo.ListCandidateItems(ctx, meeting.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"meeting": meeting, "items": items})
			})
		},
	}
	return cmd
}

func meetingReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Classify candidate items against the baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				proposals, err := p.ReviewMeeting(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(proposals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Candidate", "Category", "Outcome", "Suggested", "Reason"})
				for _, prop := range proposals {
					tw.AppendRow(table.Row{prop.CandidateItemID, prop.Category, prop.Outcome, prop.SuggestedKind, prop.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func meetingResolveCmd() *cobra.Command {
	var filePath string
	var auto bool
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Apply resolution decisions to the baseline",
		Long:  "Apply decisions from a JSON file, or run the classifier and apply its suggestions with --auto.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meetingID := args[0]
			if filePath == "" && !auto {
				return fmt.Errorf("either --file or --auto is required")
			}
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				var decisions []resolve.DecisionInput
				if auto {
					proposals, err := p.ReviewMeeting(ctx, meetingID)
					if err != nil {
						return err
					}
					for _, prop := range proposals {
						decisions = append(decisions, resolve.DecisionInput{
							CandidateItemID: prop.CandidateItemID,
							Kind:            prop.SuggestedKind,
							MatchedEntryID:  prop.MatchedEntryID,
							Reason:          prop.Reason,
						})
					}
				} else {
					data, err := os.ReadFile(filePath)
					if err != nil {
						return err
					}
					if err := json.Unmarshal(data, &decisions); err != nil {
						return fmt.Errorf("invalid decisions file: %w", err)
					}
				}
				summary, err := p.Resolve(ctx, resolve.ResolveOptions{
					ProjectID: p.Config.Project.ID,
					MeetingID: meetingID,
					Decisions: decisions,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Printf("Resolved: %d added, %d skipped, %d replaced, %d merged\n",
					summary.Added, summary.Skipped, summary.Replaced, summary.Merged)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to decisions JSON")
	cmd.Flags().BoolVar(&auto, "auto", false, "apply classifier suggestions without edits")
	return cmd
}

func meetingDecisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions <id>",
		Short: "List decisions recorded for a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				if _, err := p.Repo.GetMeeting(ctx, args[0]); err != nil {
					return err
				}
				items, err := p.Repo.ListDecisions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	return cmd
}

func baselineCmd() *cobra.Command {
	b := &cobra.Command{Use: "baseline", Short: "Inspect and curate the requirements baseline"}
	b.AddCommand(baselineListCmd())
	b.AddCommand(baselineShowCmd())
	b.AddCommand(baselineHistoryCmd())
	b.AddCommand(baselineDeactivateCmd())
	b.AddCommand(baselineReactivateCmd())
	return b
}

func baselineListCmd() *cobra.Command {
	var includeInactive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List baseline entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				items, err := p.Repo.ListBaselineEntries(ctx, p.Config.Project.ID, !includeInactive)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Category", "#", "Active", "Content"})
				for _, entry := range items {
					tw.AppendRow(table.Row{entry.ID, entry.Category, entry.DisplayOrder, entry.Active, entry.Content})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeInactive, "include-inactive", false, "include deactivated entries")
	return cmd
}

func baselineShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a baseline entry with provenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				entry, err := p.Repo.GetBaselineEntry(ctx, args[0])
				if err != nil {
					return err
				}
				prov, err := p.Repo.ListProvenance(ctx, entry.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"entry": entry, "provenance": prov})
			})
		},
	}
	return cmd
}

func baselineHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a baseline entry's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				if _, err := p.Repo.GetBaselineEntry(ctx, args[0]); err != nil {
					return err
				}
				items, err := p.Repo.ListHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Actor", "Action", "New content"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.CreatedAt, h.Actor, h.Action, h.NewContent})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func baselineDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Deactivate a baseline entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				return p.DeactivateEntry(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func baselineReactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reactivate <id>",
		Short: "Reactivate a baseline entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				return p.ReactivateEntry(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func docCmd() *cobra.Command {
	d := &cobra.Command{Use: "doc", Short: "Generate and manage PRD documents"}
	d.AddCommand(docGenerateCmd())
	d.AddCommand(docListCmd())
	d.AddCommand(docShowCmd())
	d.AddCommand(docRegenSectionCmd())
	d.AddCommand(docCancelCmd())
	d.AddCommand(docArchiveCmd())
	return d
}

func docGenerateCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a document from the active baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o generate.Orchestrator) error {
				jsonOut := viper.GetBool("json")
				doc, err := o.Generate(ctx, generate.GenerateOptions{
					ProjectID: o.Config.Project.ID,
					Mode:      mode,
					ActorID:   viper.GetString("actor-id"),
					OnEvent: func(ev generate.Event) {
						if jsonOut {
							_ = printJSON(ev)
							return
						}
						printEvent(ev)
					},
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(doc)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "document mode (draft, detailed)")
	return cmd
}

func printEvent(ev generate.Event) {
	switch ev.Type {
	case generate.EventStatus:
		fmt.Printf("Document %s: %s\n", ev.DocumentID, ev.Status)
	case generate.EventStage:
		fmt.Printf("Stage %d: %s\n", ev.Stage, strings.Join(ev.SectionIDs, ", "))
	case generate.EventSectionComplete:
		fmt.Printf("  done   %s\n", ev.SectionID)
	case generate.EventSectionFailed:
		fmt.Printf("  failed %s: %s\n", ev.SectionID, ev.Error)
	case generate.EventComplete:
		fmt.Printf("Finalized %s v%d (%s): %d sections, %d failed\n",
			ev.DocumentID, ev.Version, ev.Status, ev.SectionCount, ev.FailedCount)
	}
}

func docListCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o generate.Orchestrator) error {
				items, err := o.Repo.ListDocuments(ctx, o.Config.Project.ID, includeArchived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Version", "Mode", "Status", "Title"})
				for _, d := range items {
					version := ""
					if d.Version != nil {
						version = fmt.Sprintf("v%d", *d.Version)
					}
					tw.AppendRow(table.Row{d.ID, version, d.Mode, d.Status, d.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived documents")
	return cmd
}

func docShowCmd() *cobra.Command {
	var content bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a document with its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o generate.Orchestrator) error {
				doc, err := o.GetDocumentWithSections(ctx, args[0])
				if err != nil {
					return err
				}
				if content {
					fmt.Println(doc.Content)
					return nil
				}
				return printJSONOrIndent(doc)
			})
		},
	}
	cmd.Flags().BoolVar(&content, "content", false, "print assembled markdown only")
	return cmd
}

func docRegenSectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regen-section <document-id> <section-id>",
		Short: "Regenerate one section of a finalized document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o generate.Orchestrator) error {
				res, err := o.RegenerateSection(ctx, generate.RegenerateOptions{
					DocumentID: args[0],
					SectionID:  args[1],
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Regenerated %s (%s)\n", res.Section.ID, res.Section.Status)
				if len(res.Affected) > 0 {
					fmt.Printf("Stale later-stage sections: %s\n", strings.Join(res.Affected, ", "))
				}
				return nil
			})
		},
	}
	return cmd
}

func docCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an in-flight generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o generate.Orchestrator) error {
				return o.CancelDocument(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func docArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a finalized document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o generate.Orchestrator) error {
				return o.ArchiveDocument(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcessor(cmd.Context(), func(ctx context.Context, p resolve.Processor) error {
				events, err := p.Repo.ListEvents(ctx, p.Config.Project.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), r)
			if err != nil {
				return err
			}
			proc := resolve.New(conn, cfg, newClassifier(cfg))
			orch := generate.New(conn, cfg, newGenerator(cfg))
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SPECLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SPECLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Processor:    proc,
				Orchestrator: orch,
				BasePath:     basePath,
				Auth:         authCfg,
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
			fmt.Printf("Serving Specline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once, stored hashed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "sk-" + hex.EncodeToString(raw)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actor, "key": secret})
				}
				fmt.Printf("API key %s for %s (save it now, it is not stored):\n%s\n", key.ID, actor, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
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

// --- helpers ---

func openDB() (*sql.DB, error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func collaboratorTimeout(cfg *config.Config) time.Duration {
	if cfg.Collaborators.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(cfg.Collaborators.TimeoutSeconds) * time.Second
}

func newClassifier(cfg *config.Config) *classify.Classifier {
	return &classify.Classifier{
		Collaborator: llm.NewHTTPClassifier(cfg.Collaborators.ClassifierURL, collaboratorTimeout(cfg)),
		MaxAttempts:  cfg.ClassifierAttempts(),
	}
}

func newGenerator(cfg *config.Config) llm.Generator {
	return llm.NewHTTPGenerator(cfg.Collaborators.GeneratorURL, collaboratorTimeout(cfg))
}

func withProcessor(ctx context.Context, fn func(context.Context, resolve.Processor) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	return fn(ctx, resolve.New(conn, cfg, newClassifier(cfg)))
}

func withOrchestrator(ctx context.Context, fn func(context.Context, generate.Orchestrator) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	return fn(ctx, generate.New(conn, cfg, newGenerator(cfg)))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrIndent(v any) error {
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else if line != "" {
				lines = append(lines, line)
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
