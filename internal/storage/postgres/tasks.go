package postgres

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
)

// CreateTask registers a freshly dispatched remote task with its
// correlation metadata.
func (g *Gateway) CreateTask(ctx context.Context, botID, serverID int64, ref edge.TaskRef) error {
	if _, err := g.DB.ExecContext(ctx, `
        INSERT INTO edge_tasks (task_id, task_name, task_status, edge_bot_id, edge_server_id)
        VALUES ($1, $2, $3, $4, $5)
    `, ref.TaskID, string(ref.TaskName), string(edge.TaskPending), botID, serverID); err != nil {
		return fmt.Errorf("create task %s: %w", ref.TaskID, err)
	}

	log.WithFields(log.Fields{
		"task_id":   ref.TaskID,
		"task_name": ref.TaskName,
		"server":    serverID,
	}).Info("created edge task")
	return nil
}

// PendingTasks lists every task still awaiting a terminal status,
// oldest first.
func (g *Gateway) PendingTasks(ctx context.Context) ([]edge.Task, error) {
	rows, err := g.DB.QueryContext(ctx, `
        SELECT id, task_id, task_name, task_status, edge_bot_id, edge_server_id, created_at
        FROM edge_tasks
        WHERE task_status = $1
        ORDER BY created_at
    `, string(edge.TaskPending))
	if err != nil {
		return nil, fmt.Errorf("select pending tasks: %w", err)
	}
	defer rows.Close()

	var out []edge.Task
	for rows.Next() {
		var t edge.Task
		if err := rows.Scan(&t.ID, &t.TaskID, &t.TaskName, &t.Status, &t.BotID, &t.ServerID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus moves a task to a (usually terminal) status.
func (g *Gateway) UpdateTaskStatus(ctx context.Context, taskID string, status edge.TaskStatus) error {
	if _, err := g.DB.ExecContext(ctx,
		"UPDATE edge_tasks SET task_status = $1 WHERE task_id = $2",
		string(status), taskID,
	); err != nil {
		return fmt.Errorf("update task %s status: %w", taskID, err)
	}
	return nil
}
