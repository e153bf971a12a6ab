package orchestrator

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
)

// ProcessPendingTasks polls every outstanding remote task once and
// applies terminal results. Intentionally single-pass and sequential:
// two pollers racing the same task could double-dispatch a checkout.
// Result application is at-most-once because the local status moves to
// a terminal value with the effects, and every handler is convergent
// if a crash lands between the two.
func (o *Orchestrator) ProcessPendingTasks(ctx context.Context) error {
	tasks, err := o.Tasks.PendingTasks(ctx)
	if err != nil {
		return err
	}

	log.WithField("count", len(tasks)).Info("processing pending tasks")

	for _, task := range tasks {
		logCtx := log.WithFields(log.Fields{
			"task_id":   task.TaskID,
			"task_name": task.TaskName,
		})

		server, err := o.Bots.ServerByID(ctx, task.ServerID)
		if err != nil || server == nil {
			logCtx.WithField("err", err).Error("task references unknown edge server")
			o.updateTask(ctx, task.TaskID, edge.TaskFailure)
			continue
		}
		bot, err := o.Bots.BotByID(ctx, task.BotID)
		if err != nil || bot == nil {
			logCtx.WithField("err", err).Error("task references unknown edge bot")
			o.updateTask(ctx, task.TaskID, edge.TaskFailure)
			continue
		}

		state, err := o.Edge.TaskState(ctx, server, task.TaskName, task.TaskID)
		if err != nil {
			// A failed poll is local only; the bot is left alone for
			// the next tick or the operator.
			o.updateTask(ctx, task.TaskID, edge.TaskFailure)
			continue
		}
		if !state.Success {
			logCtx.Info("edge could not report task status")
			o.updateTask(ctx, task.TaskID, edge.TaskFailure)
			continue
		}

		switch state.TaskStatus {
		case edge.TaskPending, edge.TaskRunning:
			logCtx.Info("task has not completed yet")
			continue
		case edge.TaskFailure:
			logCtx.Error("task returned FAILURE")
			o.updateTask(ctx, task.TaskID, edge.TaskFailure)
			continue
		case edge.TaskSuccess:
			// fall through to result handling
		default:
			logCtx.WithField("status", state.TaskStatus).Error("task returned unknown status")
			o.updateTask(ctx, task.TaskID, edge.TaskFailure)
			continue
		}

		result, err := edge.DecodeTaskResult(task.TaskName, state.TaskResult)
		if err != nil {
			logCtx.WithField("err", err).Error("undecodable task result")
			o.updateTask(ctx, task.TaskID, edge.TaskFailure)
			continue
		}

		logCtx.Info("received SUCCESS, applying result")

		switch task.TaskName {
		case edge.TaskAddSubIDsToCart:
			err = o.handleCartResult(ctx, task, bot, server, result)
		case edge.TaskCheckoutCart:
			err = o.handleCheckoutResult(ctx, task, bot, server, result)
		case edge.TaskExternalLink:
			err = o.handleExternalLink(ctx, task, bot, server, result)
		default:
			logCtx.Info("no handler for task, recording status only")
		}
		if err != nil {
			logCtx.WithField("err", err).Error("task handler failed")
			continue
		}

		o.updateTask(ctx, task.TaskID, edge.TaskSuccess)
	}

	return nil
}

func (o *Orchestrator) updateTask(ctx context.Context, taskID string, status edge.TaskStatus) {
	if err := o.Tasks.UpdateTaskStatus(ctx, taskID, status); err != nil {
		log.WithFields(log.Fields{"task_id": taskID, "err": err}).Error("failed to update task status")
	}
}
