package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rpggio/tasksync/internal/config"
	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/control"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/syncqueue"
	"github.com/spf13/cobra"
)

// call invokes method on the control API and prints the result, either as
// JSON or through render.
func call(cmd *cobra.Command, method string, params any, out any, render func(io.Writer)) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		addr = cfg.ControlAddr()
	}
	client := control.NewClient(addr, nil)
	if err := client.Call(cmd.Context(), method, params, out); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON || render == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	render(w)
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st control.StatusResponse
			return call(cmd, control.MethodStatus, nil, &st, func(w io.Writer) {
				fmt.Fprintf(w, "Actor:      %s\n", st.ActorID)
				fmt.Fprintf(w, "Connection: %s", st.Connection.State)
				if st.Connection.AttemptCount > 0 {
					fmt.Fprintf(w, " (attempt %d)", st.Connection.AttemptCount)
				}
				if st.Connection.Terminal {
					fmt.Fprint(w, " - gave up reconnecting")
				}
				fmt.Fprintln(w)
				if st.Connection.LastError != "" {
					fmt.Fprintf(w, "Last error: %s\n", st.Connection.LastError)
				}
				fmt.Fprintf(w, "Pending:    %d\n", st.Sync.QueueSize)
				fmt.Fprintf(w, "Conflicts:  %d\n", st.Sync.ConflictCount)
				fmt.Fprintf(w, "Last sync:  %s\n", formatTime(st.Sync.LastSyncTime))
				fmt.Fprintf(w, "Online:     %s\n", strings.Join(st.OnlineUsers, ", "))
				for _, f := range st.Sync.SyncErrors {
					fmt.Fprintf(w, "Failed:     %s %s after %d attempts (%s)\n", f.Operation, f.TaskID, f.Attempts, f.Reason)
				}
			})
		},
	}
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List local tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tasks []task.Snapshot
			return call(cmd, control.MethodTasksList, nil, &tasks, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tPROGRESS\tASSIGNEE\tMODIFIED BY")
				for _, t := range tasks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n", t.ID, t.Title, t.Status, t.Progress, t.Assignee, t.ModifiedBy)
				}
				_ = tw.Flush()
			})
		},
	}
}

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a task and queue it for sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			project, _ := cmd.Flags().GetString("project")
			assignee, _ := cmd.Flags().GetString("assignee")
			priority, _ := cmd.Flags().GetString("priority")
			params := control.CreateTaskParams{
				Task: task.Snapshot{
					ID:        id,
					Title:     args[0],
					ProjectID: project,
					Assignee:  assignee,
					Status:    task.StatusTodo,
				},
				Priority: priority,
			}
			var created task.Snapshot
			return call(cmd, control.MethodTasksCreate, params, &created, func(w io.Writer) {
				fmt.Fprintf(w, "Created %s\n", created.ID)
			})
		},
	}
	cmd.Flags().String("id", "", "Task id (generated when empty)")
	cmd.Flags().String("project", "", "Project id")
	cmd.Flags().String("assignee", "", "Assignee")
	cmd.Flags().StringP("priority", "p", "", "Sync priority (low, medium, high)")
	return cmd
}

func editCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Edit a task and queue the update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := control.EditTaskParams{ID: args[0]}
			flags := cmd.Flags()
			if flags.Changed("title") {
				v, _ := flags.GetString("title")
				params.Title = &v
			}
			if flags.Changed("description") {
				v, _ := flags.GetString("description")
				params.Description = &v
			}
			if flags.Changed("status") {
				v, _ := flags.GetString("status")
				s := task.Status(v)
				params.Status = &s
			}
			if flags.Changed("progress") {
				v, _ := flags.GetInt("progress")
				params.Progress = &v
			}
			if flags.Changed("assignee") {
				v, _ := flags.GetString("assignee")
				params.Assignee = &v
			}
			params.Priority, _ = flags.GetString("priority")

			var updated task.Snapshot
			return call(cmd, control.MethodTasksEdit, params, &updated, func(w io.Writer) {
				fmt.Fprintf(w, "Updated %s\n", updated.ID)
			})
		},
	}
	cmd.Flags().String("title", "", "New title")
	cmd.Flags().String("description", "", "New description")
	cmd.Flags().String("status", "", "New status (todo, in_progress, done, blocked)")
	cmd.Flags().Int("progress", 0, "New progress (0-100)")
	cmd.Flags().String("assignee", "", "New assignee")
	cmd.Flags().StringP("priority", "p", "", "Sync priority (low, medium, high)")
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a task and queue the delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, _ := cmd.Flags().GetString("priority")
			var out map[string]string
			return call(cmd, control.MethodTasksDelete, control.DeleteTaskParams{ID: args[0], Priority: priority}, &out, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s\n", args[0])
			})
		},
	}
	cmd.Flags().StringP("priority", "p", "", "Sync priority (low, medium, high)")
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the outbound queue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			method := control.MethodSyncNow
			if once, _ := cmd.Flags().GetBool("once"); once {
				method = control.MethodSyncForce
			}
			var res syncqueue.DrainResult
			return call(cmd, method, nil, &res, func(w io.Writer) {
				if res.Skipped {
					fmt.Fprintln(w, "A sync is already running")
					return
				}
				fmt.Fprintf(w, "Sent %d, failed %d, dropped %d, %d pending\n", res.Sent, res.Failed, res.Dropped, res.Remaining)
			})
		},
	}
	cmd.Flags().Bool("once", false, "Send a single batch")

	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "List queued items in drain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []syncqueue.Item
			return call(cmd, control.MethodSyncPending, nil, &items, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ITEM\tOPERATION\tTASK\tPRIORITY\tATTEMPTS\tENQUEUED")
				for _, it := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", it.ID, it.Operation, it.TaskID, it.Priority, it.Attempts, formatTime(it.EnqueuedAt))
				}
				_ = tw.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear-errors",
		Short: "Forget terminal delivery failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			return call(cmd, control.MethodSyncClearErrors, nil, &out, func(w io.Writer) {
				fmt.Fprintln(w, "Cleared")
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "connect",
		Short: "Reconnect after the client gave up",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st control.StatusResponse
			return call(cmd, control.MethodConnect, nil, &st, func(w io.Writer) {
				fmt.Fprintf(w, "Connection: %s\n", st.Connection.State)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disconnect",
		Short: "Go offline; edits keep queueing",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st control.StatusResponse
			return call(cmd, control.MethodDisconnect, nil, &st, func(w io.Writer) {
				fmt.Fprintf(w, "Connection: %s\n", st.Connection.State)
			})
		},
	})
	return cmd
}

func conflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved conflicts, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []conflict.Record
			return call(cmd, control.MethodConflictsList, nil, &records, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tTASK\tOTHER ACTOR\tDETECTED")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.ResourceID, r.ConflictingActorID, formatTime(r.DetectedAt))
				}
				_ = tw.Flush()
			})
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "resolve [conflict-id] [local|remote]",
		Short:     "Resolve a conflict by keeping one version",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(conflict.ChoiceLocal), string(conflict.ChoiceRemote)},
		RunE: func(cmd *cobra.Command, args []string) error {
			var res control.ResolveConflictResponse
			return call(cmd, control.MethodConflictsResolve, control.ResolveConflictParams{ID: args[0], Choice: args[1]}, &res, func(w io.Writer) {
				if !res.Found {
					fmt.Fprintf(w, "Conflict %s is already resolved\n", args[0])
					return
				}
				fmt.Fprintf(w, "Kept %s version\n", args[1])
			})
		},
	}
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List collaborators currently online",
		RunE: func(cmd *cobra.Command, args []string) error {
			var users []string
			return call(cmd, control.MethodPresenceList, nil, &users, func(w io.Writer) {
				for _, u := range users {
					fmt.Fprintln(w, u)
				}
			})
		},
	}
}

func activityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the sync activity log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := control.ListActivityParams{}
			params.TaskID, _ = cmd.Flags().GetString("task")
			params.Type, _ = cmd.Flags().GetString("type")
			params.Limit, _ = cmd.Flags().GetInt("limit")
			var entries []activity.ActivityEntry
			return call(cmd, control.MethodActivityList, params, &entries, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", formatTime(e.CreatedAt), e.ActivityType, e.Summary)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().String("task", "", "Only entries for this task")
	cmd.Flags().String("type", "", "Only entries of this type")
	cmd.Flags().IntP("limit", "n", 20, "Maximum entries")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
