package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TFMV/sqlgate/pkg/cache"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/services"
)

// errFailed marks a command whose result was printed but reports a failure.
var errFailed = errors.New("see the printed result")

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [sql | -f file]",
		Short: "Audit a script without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				auditor := services.NewAuditor(a.getter, a.logger, a.metrics)
				set := auditor.ExecuteCheck(cmd.Context(), a.engine, a.inst, a.schema, script)
				return printSet(cmd, set)
			})
		},
	}
	addScriptFlag(cmd)
	return cmd
}

func queryCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query-check [sql | -f file]",
		Short: "Check that a query is read-only",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readScript(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				res := services.QueryCheck(a.engine, sql)
				if err := printJSON(cmd, res); err != nil {
					return err
				}
				if res.BadQuery {
					return errFailed
				}
				return nil
			})
		},
	}
	addScriptFlag(cmd)
	return cmd
}

func executeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute [sql | -f file]",
		Short: "Run a script statement by statement, stopping at the first failure",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(cmd, args)
			if err != nil {
				return err
			}
			withBackup, _ := cmd.Flags().GetBool("backup")
			workflow, _ := cmd.Flags().GetString("workflow")
			if withBackup && workflow == "" {
				workflow = uuid.NewString()
			}

			return withApp(cmd, func(a *app) error {
				var recorder services.BackupRecorder
				if withBackup {
					store, err := a.backupStore()
					if err != nil {
						return err
					}
					recorder = store
				}
				x := services.NewExecutor(recorder, a.logger, a.metrics)
				set := x.Execute(cmd.Context(), a.engine, services.ExecuteRequest{
					Instance:   a.inst,
					Schema:     a.schema,
					Script:     script,
					Backup:     withBackup,
					WorkflowID: workflow,
				})
				if withBackup {
					a.logger.Info().Str("workflow", workflow).Msg("Backups recorded")
				}
				return printSet(cmd, set)
			})
		},
	}
	addScriptFlag(cmd)
	cmd.Flags().Bool("backup", false, "record undo information before every change")
	cmd.Flags().String("workflow", "", "workflow id the backups are recorded under (generated when empty)")
	return cmd
}

func rollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback --workflow id",
		Short: "Run the recorded undo statements of a workflow, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workflow, _ := cmd.Flags().GetString("workflow")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			return withApp(cmd, func(a *app) error {
				store, err := a.backupStore()
				if err != nil {
					return err
				}
				x := services.NewExecutor(store, a.logger, a.metrics)
				if dryRun {
					pairs, err := x.RollbackStatements(cmd.Context(), workflow)
					if err != nil {
						return err
					}
					return printJSON(cmd, pairs)
				}
				set, err := x.Rollback(cmd.Context(), a.engine, a.inst, a.schema, workflow)
				if err != nil {
					return err
				}
				return printSet(cmd, set)
			})
		},
	}
	cmd.Flags().String("workflow", "", "workflow id to roll back")
	cmd.Flags().Bool("dry-run", false, "print the recorded statements without running them")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [sql | -f file]",
		Short: "Run a read-only query and print the masked result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readScript(cmd, args)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			return withApp(cmd, func(a *app) error {
				repo, err := a.maskingRepository()
				if err != nil {
					return err
				}
				if timeout == 0 {
					timeout = a.cfg.QueryTimeout
				}
				masker := services.NewMasker(repo, a.getter, a.logger, a.metrics)
				qs := services.NewQueryService(masker, a.getter, a.logger, a.metrics)
				rs, err := qs.Query(cmd.Context(), a.engine, models.QueryRequest{
					Instance: a.inst,
					Schema:   a.schema,
					SQL:      sql,
					Limit:    limit,
					Timeout:  timeout,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd, rs); err != nil {
					return err
				}
				if rs.Failed() {
					return errFailed
				}
				return nil
			})
		},
	}
	addScriptFlag(cmd)
	cmd.Flags().Int("limit", 0, "maximum rows to return (0 uses query.default_limit)")
	cmd.Flags().Duration("timeout", 0, "query timeout (0 uses query_timeout)")
	return cmd
}

func databasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List the databases of an instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				md := services.NewMetadataService(cache.DefaultConfig(), a.logger, a.metrics)
				dbs, err := md.GetDatabases(cmd.Context(), a.engine, a.inst)
				if err != nil {
					return err
				}
				return printJSON(cmd, dbs)
			})
		},
	}
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of a schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				md := services.NewMetadataService(cache.DefaultConfig(), a.logger, a.metrics)
				tables, err := md.GetTables(cmd.Context(), a.engine, a.inst, a.schema)
				if err != nil {
					return err
				}
				return printJSON(cmd, tables)
			})
		},
	}
}

func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	err = fn(a)
	a.logger.Debug().Str("command", cmd.Name()).Dur("duration", time.Since(start)).Msg("Command finished")
	return err
}

func addScriptFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "read SQL from a file, - for stdin")
}

// readScript returns the SQL given as the argument or through --file.
func readScript(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("give the SQL as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("no SQL given")
}

func printSet(cmd *cobra.Command, set *models.ReviewSet) error {
	if err := printJSON(cmd, set); err != nil {
		return err
	}
	if set.Failed() {
		return errFailed
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
