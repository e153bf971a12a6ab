package orchestrator

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
	"github.com/edgecommerce/edge-dispatch/internal/events"
	"github.com/edgecommerce/edge-dispatch/internal/relation"
)

// PushRelations walks every (user, currency) tuple waiting for an
// invite and, once the user shows up on the committed bot's friend
// list, pushes the tuple's items into that bot's cart. The bot is
// claimed (PUSHING_ITEMS_TO_CART) before the HTTP call goes out, so a
// crash mid-call leaves it unselectable until the task poll reconciles
// it.
func (o *Orchestrator) PushRelations(ctx context.Context, anticheatPolicy bool) error {
	batch, err := o.selectBatch(ctx, relation.WaitingForInvite, anticheatPolicy)
	if err != nil {
		return err
	}

	if len(batch) == 0 {
		log.Info("no relations waiting for invite")
		return nil
	}

	run := newRunState()

	for userID, byCurrency := range batch {
		for currencyCode, group := range byCurrency {
			logCtx := log.WithFields(log.Fields{
				"user":     userID,
				"currency": currencyCode,
				"items":    len(group.Items),
			})

			if group.CommittedBot == "" {
				logCtx.Info("skipping group without committed bot")
				continue
			}

			bot, err := o.Bots.BotByNetworkID(ctx, group.CommittedBot)
			if err != nil {
				logCtx.WithField("err", err).Error("bot lookup failed")
				continue
			}
			if bot == nil {
				logCtx.WithField("bot", group.CommittedBot).Info("committed bot no longer exists")
				continue
			}
			if bot.Status != edge.BotStandingBy {
				logCtx.WithFields(log.Fields{
					"bot":    bot.NetworkID,
					"status": bot.Status,
				}).Info("committed bot is not standing by")
				continue
			}

			server, err := o.Bots.ServerForCurrency(ctx, currencyCode)
			if err != nil {
				logCtx.WithField("err", err).Error("server lookup failed")
				continue
			}
			if server == nil {
				logCtx.Info("no enabled edge server for currency")
				continue
			}
			if !o.serverIsHealthy(ctx, run, server) {
				continue
			}

			friends, err := o.friendList(ctx, run, server, bot.NetworkID)
			if err != nil {
				o.blockBot(ctx, bot.NetworkID, "friend list fetch failed")
				continue
			}

			accountID, err := o.Relations.ExternalAccountID(ctx, userID)
			if err != nil {
				logCtx.WithField("err", err).Info("skipping user without external account id")
				continue
			}
			if !friends[accountID] {
				logCtx.WithField("bot", bot.NetworkID).Info("user has not accepted the invite yet")
				continue
			}

			o.pushGroup(ctx, bot, server, group, logCtx)
		}
	}

	return nil
}

// pushGroup claims the bot and dispatches one cart push.
func (o *Orchestrator) pushGroup(ctx context.Context, bot *edge.Bot, server *edge.Server, group *relation.Group, logCtx *log.Entry) {
	// Claim before the call: exclusivity must hold even if we crash
	// between send and receive.
	o.setBotStatus(ctx, bot.NetworkID, edge.BotPushingItemsToCart)

	resp, err := o.Edge.PushCart(ctx, server, bot.NetworkID, group.Items)
	if err != nil {
		o.blockBot(ctx, bot.NetworkID, "cart push failed")
		return
	}

	if !resp.Success {
		logCtx.WithFields(log.Fields{
			"bot":    bot.NetworkID,
			"result": resp.Result.String(),
		}).Info("edge bot rejected cart push")
		o.setBotStatus(ctx, bot.NetworkID, edge.BotStandingBy)
		return
	}

	if err := o.Tasks.CreateTask(ctx, bot.ID, server.ID, resp.Ref()); err != nil {
		logCtx.WithField("err", err).Error("failed to register push task")
		o.blockBot(ctx, bot.NetworkID, "task registration failed")
		return
	}

	if err := o.Reconciler.CommitItems(ctx, group.Items, relation.PushedToCart, resp.TaskID, bot.NetworkID); err != nil {
		logCtx.WithField("err", err).Error("failed to commit pushed relations")
		return
	}
	if err := o.Reconciler.AssignRequests(ctx, group.Items); err != nil {
		logCtx.WithField("err", err).Error("failed to assign requests")
		return
	}

	evt := events.New(events.RelationsPushed, resp.TaskID, map[string]any{
		"task_id": resp.TaskID,
		"bot":     bot.NetworkID,
		"items":   len(group.Items),
	})
	if err := o.publisher().Publish(ctx, resp.TaskID, evt); err != nil {
		logCtx.WithField("err", err).Warn("event publish failed")
	}

	logCtx.WithFields(log.Fields{
		"bot":     bot.NetworkID,
		"task_id": resp.TaskID,
	}).Info("pushed relations to edge bot")
}
