package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dunbarhq/dunbar/internal/config"
	"github.com/dunbarhq/dunbar/internal/embed"
	"github.com/dunbarhq/dunbar/internal/extract"
	"github.com/dunbarhq/dunbar/internal/ingest"
	"github.com/dunbarhq/dunbar/internal/mcp"
	"github.com/dunbarhq/dunbar/internal/observe"
	"github.com/dunbarhq/dunbar/internal/pipeline"
	"github.com/dunbarhq/dunbar/internal/relate"
	"github.com/dunbarhq/dunbar/internal/remind"
	"github.com/dunbarhq/dunbar/internal/schedule"
	"github.com/dunbarhq/dunbar/internal/store"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "dunbar",
		Usage:   "Personal CRM that listens to your communications",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Config file path (default: ~/.dunbar/config.yaml)"},
			&cli.StringFlag{Name: "db", Usage: "Database file path"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug|info|warn|error"},
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			mcpCmd(),
			statusCmd(),
			ingestCmd(),
			contactsCmd(),
			factsCmd(),
			conflictsCmd(),
			followupsCmd(),
			relationshipsCmd(),
			reconnectCmd(),
			dbCmd(),
			versionCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// appEnv bundles what every command needs after setup.
type appEnv struct {
	cfg   config.ResolvedConfig
	store store.Store
	log   *slog.Logger
	close func()
}

func setup(c *cli.Context) (*appEnv, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:   c.String("config"),
		CLIDBPath:    c.String("db"),
		CLISchedule:  c.String("schedule"),
		CLIExtractor: c.String("extractor"),
		CLIEmbedder:  c.String("embedder"),
		CLILogLevel:  c.String("log-level"),
	})
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLevel(cfg.LogLevel.Value)
	if err != nil {
		return nil, err
	}
	log, closeLog := config.SetupLogger(cfg.LogFile.Value, level)

	st, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &appEnv{
		cfg:   cfg,
		store: st,
		log:   log,
		close: func() {
			st.Close()
			closeLog()
		},
	}, nil
}

// buildPipeline wires the extraction pipeline from resolved config. The
// extractor is required; a failed embedder only degrades dedup to exact
// value matching, so it is logged and dropped rather than fatal.
func buildPipeline(ctx context.Context, env *appEnv) (*pipeline.Pipeline, error) {
	extractor, err := extract.NewClient(ctx, env.cfg.Extractor.Value)
	if err != nil {
		return nil, fmt.Errorf("building extractor: %w", err)
	}

	var embedder embed.Embedder
	if e, err := embed.New(ctx, env.cfg.Embedder.Value); err != nil {
		env.log.Warn("embedder unavailable, similarity dedup disabled", "embedder", env.cfg.Embedder.Value, "error", err)
	} else {
		embedder = e
	}

	return pipeline.New(env.store, extractor, embedder, pipelineConfig(env.cfg), env.log), nil
}

func pipelineConfig(cfg config.ResolvedConfig) pipeline.Config {
	p := cfg.Pipeline
	return pipeline.Config{
		BatchSize:                p.BatchSize,
		BatchOverlap:             p.BatchOverlap,
		ContextMessages:          p.ContextMessages,
		MinMessageLength:         p.MinMessageLength,
		ConfidenceThreshold:      p.ConfidenceThreshold,
		DedupSimilarityThreshold: p.DedupSimilarityThreshold,
		SupersedeConfidence:      p.SupersedeConfidence,
		FollowupCutoffDays:       p.FollowupCutoffDays,
		InterBatchDelay:          time.Duration(p.InterBatchDelayMS) * time.Millisecond,
		EmbeddingModel:           cfg.Embedder.Value,
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the extraction pipeline once and print the summary",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "extractor", Usage: "Extraction model as provider/model"},
			&cli.StringFlag{Name: "embedder", Usage: "Embedding model as provider/model"},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipe, err := buildPipeline(ctx, env)
			if err != nil {
				return err
			}

			return outputJSON(pipe.Run(ctx))
		},
	}
}

// serveRunner runs the pipeline on schedule and, when enabled, follows each
// real run with a reconnect sweep.
type serveRunner struct {
	pipe  *pipeline.Pipeline
	store store.Store
	log   *slog.Logger
	recon config.ReconnectSettings
}

func (r *serveRunner) Run(ctx context.Context) *pipeline.RunSummary {
	sum := r.pipe.Run(ctx)
	if r.recon.Enabled && !sum.Skipped {
		// A fresh runner per sweep so the silence clock is pinned to now.
		sweep := remind.NewRunner(r.store, remind.Config{
			SilentDays: r.recon.AfterDays,
			DueInDays:  r.recon.DueInDays,
		}, r.log)
		if _, err := sweep.Run(ctx, false); err != nil {
			r.log.Error("reconnect sweep failed", "error", err)
		}
	}
	return sum
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the cron scheduler until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "Cron schedule, e.g. \"0 * * * *\" or @hourly"},
			&cli.StringFlag{Name: "extractor", Usage: "Extraction model as provider/model"},
			&cli.StringFlag{Name: "embedder", Usage: "Embedding model as provider/model"},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipe, err := buildPipeline(ctx, env)
			if err != nil {
				return err
			}

			runner := &serveRunner{pipe: pipe, store: env.store, log: env.log, recon: env.cfg.Reconnect}
			sched, err := schedule.New(ctx, env.cfg.Schedule.Value, runner, env.log)
			if err != nil {
				return err
			}

			sched.Start()
			env.log.Info("scheduler started",
				"schedule", env.cfg.Schedule.Value,
				"next_run", sched.Next().Format(time.RFC3339),
				"reconnect_enabled", env.cfg.Reconnect.Enabled)

			<-ctx.Done()
			sched.Stop()
			env.log.Info("scheduler stopped")
			return nil
		},
	}
}

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP server on stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "extractor", Usage: "Extraction model as provider/model"},
			&cli.StringFlag{Name: "embedder", Usage: "Embedding model as provider/model"},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.close()

			serverCfg := mcp.ServerConfig{Store: env.store, DBPath: env.cfg.DBPath.Value, Version: Version}
			// Without provider credentials the server still works read-only;
			// only crm_run_pipeline goes missing.
			if pipe, err := buildPipeline(c.Context, env); err != nil {
				env.log.Warn("pipeline unavailable over MCP", "error", err)
			} else {
				serverCfg.Runner = pipe
			}

			return mcp.Run(serverCfg)
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show pending workload, open followups, and conflicts",
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.close()
			ctx := c.Context

			workloads, err := env.store.ContactsWithUnprocessed(ctx, env.cfg.Pipeline.MinMessageLength)
			if err != nil {
				return err
			}
			followups, err := env.store.ListFollowups(ctx, store.ListFollowupOpts{})
			if err != nil {
				return err
			}
			conflicts, err := env.store.ConflictGroups(ctx, 0)
			if err != nil {
				return err
			}

			type pendingRow struct {
				ContactID   int64  `json:"contact_id"`
				Contact     string `json:"contact"`
				Unprocessed int    `json:"unprocessed"`
			}
			pending := make([]pendingRow, 0, len(workloads))
			total := 0
			for _, w := range workloads {
				pending = append(pending, pendingRow{w.ContactID, w.DisplayName, w.UnprocessedCount})
				total += w.UnprocessedCount
			}

			return outputJSON(map[string]interface{}{
				"config": map[string]config.ResolvedValue{
					"db_path":   env.cfg.DBPath,
					"schedule":  env.cfg.Schedule,
					"extractor": env.cfg.Extractor,
					"embedder":  env.cfg.Embedder,
				},
				"pending":                pending,
				"pending_communications": total,
				"open_followups":         len(followups),
				"conflict_groups":        len(conflicts),
			})
		},
	}
}

func ingestCmd() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Import communications from JSONL or CSV export files",
		ArgsUsage: "<file>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "contact", Usage: "Attribute records without a contact name to this contact"},
			&cli.BoolFlag{Name: "create-contacts", Usage: "Create contacts for unknown names instead of rejecting the record"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one export file is required", 1)
			}

			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.close()

			eng := ingest.NewEngine(env.store, env.log)
			opts := ingest.ImportOptions{
				DefaultContact: c.String("contact"),
				CreateContacts: c.Bool("create-contacts"),
			}

			total := &ingest.Result{}
			for _, path := range c.Args().Slice() {
				res, err := eng.ImportFile(c.Context, path, opts)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				total.Add(res)
			}
			return outputJSON(total)
		},
	}
}

func contactsCmd() *cli.Command {
	return &cli.Command{
		Name:  "contacts",
		Usage: "Manage contacts",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a contact",
				ArgsUsage: "<display name>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("exactly one display name is required", 1)
					}
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					contact, err := env.store.AddContact(c.Context, c.Args().First())
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(contactRowFrom(contact))
				},
			},
			{
				Name:  "list",
				Usage: "List all contacts",
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					contacts, err := env.store.ListContacts(c.Context)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					rows := make([]contactRow, 0, len(contacts))
					for _, contact := range contacts {
						rows = append(rows, contactRowFrom(contact))
					}
					return outputJSON(rows)
				},
			},
		},
	}
}

func factsCmd() *cli.Command {
	return &cli.Command{
		Name:  "facts",
		Usage: "Inspect and record facts about contacts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a contact's live facts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact", Required: true, Usage: "Contact display name"},
					&cli.StringFlag{Name: "type", Usage: "Restrict to one fact type"},
					&cli.BoolFlag{Name: "conflicted", Usage: "Only conflicted facts"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum facts to return"},
				},
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					contact, err := contactByName(c.Context, env.store, c.String("contact"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}

					facts, err := env.store.ListFacts(c.Context, contact.ID, store.ListFactOpts{
						FactType:       c.String("type"),
						OnlyConflicted: c.Bool("conflicted"),
						Limit:          c.Int("limit"),
					})
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					rows := make([]factRow, 0, len(facts))
					for _, f := range facts {
						rows = append(rows, factRowFrom(f))
					}
					return outputJSON(rows)
				},
			},
			{
				Name:  "add",
				Usage: "Record a manual fact",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact", Required: true, Usage: "Contact display name"},
					&cli.StringFlag{Name: "type", Required: true, Usage: "Fact type, e.g. job, location, interest"},
					&cli.StringFlag{Name: "value", Required: true, Usage: "Fact value"},
					&cli.Float64Flag{Name: "confidence", Value: 1.0, Usage: "Confidence in [0,1]"},
				},
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()
					ctx := c.Context

					contact, err := contactByName(ctx, env.store, c.String("contact"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}

					fact := &store.Fact{
						ContactID:  contact.ID,
						FactType:   c.String("type"),
						Value:      c.String("value"),
						Source:     store.SourceManual,
						Confidence: c.Float64("confidence"),
					}
					id, err := env.store.AddFact(ctx, fact)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					// Manual facts participate in conflict detection too.
					if _, err := env.store.RefreshConflictState(ctx, contact.ID, fact.FactType); err != nil {
						return cli.Exit(err.Error(), 1)
					}

					saved, err := env.store.GetFact(ctx, id)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(factRowFrom(saved))
				},
			},
		},
	}
}

func conflictsCmd() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Inspect and resolve conflicting facts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List conflicted fact groups",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact", Usage: "Contact display name; empty = all"},
				},
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()
					ctx := c.Context

					var contactID int64
					if name := c.String("contact"); name != "" {
						contact, err := contactByName(ctx, env.store, name)
						if err != nil {
							return cli.Exit(err.Error(), 1)
						}
						contactID = contact.ID
					}

					groups, err := env.store.ConflictGroups(ctx, contactID)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}

					type groupRow struct {
						ContactID int64     `json:"contact_id"`
						FactType  string    `json:"fact_type"`
						Facts     []factRow `json:"facts"`
					}
					rows := make([]groupRow, 0, len(groups))
					for _, g := range groups {
						row := groupRow{ContactID: g.ContactID, FactType: g.FactType}
						for _, f := range g.Facts {
							row.Facts = append(row.Facts, factRowFrom(f))
						}
						rows = append(rows, row)
					}
					return outputJSON(rows)
				},
			},
			{
				Name:  "resolve",
				Usage: "Resolve a conflict by keeping one fact or accepting all values",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact", Required: true, Usage: "Contact display name"},
					&cli.StringFlag{Name: "type", Required: true, Usage: "Conflicted fact type"},
					&cli.Int64Flag{Name: "keep", Usage: "ID of the fact to keep; the other live facts are soft-deleted"},
					&cli.BoolFlag{Name: "merge", Usage: "Accept all values as true and clear the conflict flags"},
				},
				Action: func(c *cli.Context) error {
					keep := c.Int64("keep")
					merge := c.Bool("merge")
					if (keep != 0) == merge {
						return cli.Exit("pass exactly one of --keep or --merge", 1)
					}

					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()
					ctx := c.Context

					contact, err := contactByName(ctx, env.store, c.String("contact"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}

					if err := env.store.ResolveConflict(ctx, contact.ID, c.String("type"), keep, !merge); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					out := map[string]interface{}{
						"resolved":  true,
						"fact_type": c.String("type"),
						"action":    "merge",
					}
					if !merge {
						out["action"] = "keep"
						out["kept"] = keep
					}
					return outputJSON(out)
				},
			},
		},
	}
}

func followupsCmd() *cli.Command {
	return &cli.Command{
		Name:  "followups",
		Usage: "Inspect and complete followups",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List followups",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact", Usage: "Contact display name; empty = all"},
					&cli.StringFlag{Name: "due-before", Usage: "Only followups due before this date (YYYY-MM-DD)"},
					&cli.BoolFlag{Name: "all", Usage: "Include completed followups"},
				},
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()
					ctx := c.Context

					opts := store.ListFollowupOpts{IncludeCompleted: c.Bool("all")}
					if name := c.String("contact"); name != "" {
						contact, err := contactByName(ctx, env.store, name)
						if err != nil {
							return cli.Exit(err.Error(), 1)
						}
						opts.ContactID = contact.ID
					}
					if raw := c.String("due-before"); raw != "" {
						due, err := time.Parse("2006-01-02", raw)
						if err != nil {
							return cli.Exit(fmt.Sprintf("invalid due-before %q, want YYYY-MM-DD", raw), 1)
						}
						opts.DueBefore = &due
					}

					followups, err := env.store.ListFollowups(ctx, opts)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					rows := make([]followupRow, 0, len(followups))
					for _, f := range followups {
						rows = append(rows, followupRowFrom(f))
					}
					return outputJSON(rows)
				},
			},
			{
				Name:      "complete",
				Usage:     "Mark a followup as done",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := argID(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					if err := env.store.CompleteFollowup(c.Context, id); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(map[string]interface{}{"completed": id})
				},
			},
		},
	}
}

func relationshipsCmd() *cli.Command {
	return &cli.Command{
		Name:  "relationships",
		Usage: "Manage who is who in a contact's life",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a contact's relationships",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact", Required: true, Usage: "Contact display name"},
					&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted relationships"},
				},
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					contact, err := contactByName(c.Context, env.store, c.String("contact"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}

					rels, err := env.store.ListRelationships(c.Context, contact.ID, c.Bool("include-deleted"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					rows := make([]relationshipRow, 0, len(rels))
					for _, r := range rels {
						rows = append(rows, relationshipRowFrom(r))
					}
					return outputJSON(rows)
				},
			},
			{
				Name:  "add",
				Usage: "Record a relationship",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact", Required: true, Usage: "Contact display name"},
					&cli.StringFlag{Name: "label", Required: true, Usage: "Relationship label, e.g. partner, parent, friend"},
					&cli.StringFlag{Name: "person", Required: true, Usage: "The other person's name"},
				},
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()
					ctx := c.Context

					contact, err := contactByName(ctx, env.store, c.String("contact"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}

					engine := relate.NewEngine(env.store)
					id, err := engine.Create(ctx, &store.Relationship{
						ContactID:  contact.ID,
						Label:      c.String("label"),
						PersonName: c.String("person"),
						Source:     store.SourceManual,
					})
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}

					rel, err := env.store.GetRelationship(ctx, id)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(relationshipRowFrom(rel))
				},
			},
			{
				Name:      "link",
				Usage:     "Link a relationship's person to a contact record",
				ArgsUsage: "<relationship-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Required: true, Usage: "Contact display name to link to"},
				},
				Action: func(c *cli.Context) error {
					id, err := argID(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()
					ctx := c.Context

					target, err := contactByName(ctx, env.store, c.String("to"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					if err := relate.NewEngine(env.store).Link(ctx, id, target.ID); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(map[string]interface{}{"linked": id, "to": target.ID})
				},
			},
			{
				Name:      "unlink",
				Usage:     "Detach a relationship from its linked contact",
				ArgsUsage: "<relationship-id>",
				Action: func(c *cli.Context) error {
					id, err := argID(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					if err := relate.NewEngine(env.store).Unlink(c.Context, id); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(map[string]interface{}{"unlinked": id})
				},
			},
			{
				Name:      "delete",
				Usage:     "Soft-delete a relationship (and its reciprocal)",
				ArgsUsage: "<relationship-id>",
				Action: func(c *cli.Context) error {
					id, err := argID(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					if err := relate.NewEngine(env.store).Delete(c.Context, id); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(map[string]interface{}{"deleted": id})
				},
			},
		},
	}
}

func reconnectCmd() *cli.Command {
	return &cli.Command{
		Name:  "reconnect",
		Usage: "Scan for quiet contacts and raise reconnect reminders",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would happen without writing"},
			&cli.IntFlag{Name: "silent-days", Usage: "Days of silence before a reminder (default from config)"},
			&cli.IntFlag{Name: "due-in-days", Usage: "How far out the reminder is due (default from config)"},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.close()

			cfg := remind.Config{
				SilentDays: env.cfg.Reconnect.AfterDays,
				DueInDays:  env.cfg.Reconnect.DueInDays,
			}
			if c.IsSet("silent-days") {
				cfg.SilentDays = c.Int("silent-days")
			}
			if c.IsSet("due-in-days") {
				cfg.DueInDays = c.Int("due-in-days")
			}

			report, err := remind.NewRunner(env.store, cfg, env.log).Run(c.Context, c.Bool("dry-run"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return outputJSON(report)
		},
	}
}

func dbCmd() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Database statistics and maintenance",
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show aggregate database statistics",
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					stats, err := observe.NewEngine(env.store, env.cfg.DBPath.Value).GetStats(c.Context)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(stats)
				},
			},
			{
				Name:  "vacuum",
				Usage: "Compact the database file",
				Action: func(c *cli.Context) error {
					env, err := setup(c)
					if err != nil {
						return err
					}
					defer env.close()

					report, err := observe.NewEngine(env.store, env.cfg.DBPath.Value).Vacuum(c.Context)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return outputJSON(report)
				},
			},
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(c *cli.Context) error {
			fmt.Printf("dunbar %s\n", Version)
			return nil
		},
	}
}

// Output row shapes. Store types carry no JSON tags, so commands map rows
// into these before printing.

type contactRow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func contactRowFrom(c *store.Contact) contactRow {
	return contactRow{ID: c.ID, Name: c.DisplayName, CreatedAt: c.CreatedAt.Format(time.RFC3339)}
}

type factRow struct {
	ID           int64   `json:"id"`
	FactType     string  `json:"fact_type"`
	Value        string  `json:"value"`
	Source       string  `json:"source"`
	Confidence   float64 `json:"confidence"`
	HasConflict  bool    `json:"has_conflict"`
	SupersededBy *int64  `json:"superseded_by,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func factRowFrom(f *store.Fact) factRow {
	return factRow{
		ID:           f.ID,
		FactType:     f.FactType,
		Value:        f.Value,
		Source:       f.Source,
		Confidence:   f.Confidence,
		HasConflict:  f.HasConflict,
		SupersededBy: f.SupersededBy,
		CreatedAt:    f.CreatedAt.Format(time.RFC3339),
	}
}

type followupRow struct {
	ID        int64  `json:"id"`
	ContactID int64  `json:"contact_id"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	DueDate   string `json:"due_date"`
	Completed bool   `json:"completed"`
}

func followupRowFrom(f *store.Followup) followupRow {
	return followupRow{
		ID:        f.ID,
		ContactID: f.ContactID,
		Type:      f.Type,
		Reason:    f.Reason,
		DueDate:   f.DueDate.Format("2006-01-02"),
		Completed: f.Completed,
	}
}

type relationshipRow struct {
	ID              int64    `json:"id"`
	ContactID       int64    `json:"contact_id"`
	Label           string   `json:"label"`
	Person          string   `json:"person"`
	LinkedContactID *int64   `json:"linked_contact_id,omitempty"`
	Source          string   `json:"source"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Deleted         bool     `json:"deleted,omitempty"`
}

func relationshipRowFrom(r *store.Relationship) relationshipRow {
	return relationshipRow{
		ID:              r.ID,
		ContactID:       r.ContactID,
		Label:           r.Label,
		Person:          r.PersonName,
		LinkedContactID: r.LinkedContactID,
		Source:          r.Source,
		Confidence:      r.Confidence,
		Deleted:         r.DeletedAt != nil,
	}
}

// Helper functions

func contactByName(ctx context.Context, st store.Store, name string) (*store.Contact, error) {
	matches, err := st.FindContactsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no contact named %q", name)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("contact name %q is ambiguous (%d matches)", name, len(matches))
	}
}

func argID(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("exactly one id argument is required")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", c.Args().First())
	}
	return id, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
