package orchestrator

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
	"github.com/edgecommerce/edge-dispatch/internal/relation"
)

// SendInvitations walks every (user, currency) tuple with uncommitted
// relations, befriends the user from a free bot of the right pool, and
// moves the tuple's relations to the waiting-for-invite stage bound to
// that bot. The purchase itself waits until the user accepts the
// invite and a later push run finds them on the friend list.
func (o *Orchestrator) SendInvitations(ctx context.Context, anticheatPolicy bool) error {
	batch, err := o.selectBatch(ctx, relation.Uncommitted, anticheatPolicy)
	if err != nil {
		return err
	}

	if len(batch) == 0 {
		log.Info("no uncommitted relations found")
		return nil
	}

	run := newRunState()
	botType := botTypeFor(anticheatPolicy)

	for userID, byCurrency := range batch {
		for currencyCode, group := range byCurrency {
			logCtx := log.WithFields(log.Fields{
				"user":     userID,
				"currency": currencyCode,
				"items":    len(group.Items),
			})

			bot, server := o.pickBotAndServer(ctx, run, currencyCode, botType)
			if bot == nil || server == nil {
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
				full, err := o.Edge.AddFriend(ctx, server, bot.NetworkID, accountID)
				if err != nil {
					o.blockBot(ctx, bot.NetworkID, "add friend failed")
					continue
				}
				if full {
					logCtx.WithField("bot", bot.NetworkID).Warn("bot friend list is full")
					continue
				}
				logCtx.WithField("bot", bot.NetworkID).Info("sent friend invite")
			}

			if err := o.Reconciler.CommitItems(ctx, group.Items, relation.WaitingForInvite, "", bot.NetworkID); err != nil {
				return err
			}
			logCtx.WithField("bot", bot.NetworkID).Info("relations waiting for invite")
		}
	}

	return nil
}

// pickBotAndServer resolves the standing-by bot and healthy enabled
// server for a currency; either being unavailable skips the tuple.
func (o *Orchestrator) pickBotAndServer(ctx context.Context, run *runState, currencyCode string, botType edge.BotType) (*edge.Bot, *edge.Server) {
	bot, err := o.Bots.BotForCurrency(ctx, currencyCode, botType)
	if err != nil {
		log.WithFields(log.Fields{"currency": currencyCode, "err": err}).Error("bot lookup failed")
		return nil, nil
	}
	if bot == nil {
		log.WithField("currency", currencyCode).Info("no available edge bot for currency")
		return nil, nil
	}

	server, err := o.Bots.ServerForCurrency(ctx, currencyCode)
	if err != nil {
		log.WithFields(log.Fields{"currency": currencyCode, "err": err}).Error("server lookup failed")
		return nil, nil
	}
	if server == nil {
		log.WithField("currency", currencyCode).Info("no enabled edge server for currency")
		return nil, nil
	}

	if !o.serverIsHealthy(ctx, run, server) {
		return nil, nil
	}
	return bot, server
}
