package orchestrator

import (
	"context"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
	"github.com/edgecommerce/edge-dispatch/internal/relation"
	"github.com/edgecommerce/edge-dispatch/internal/wallet"
)

// handleCartResult reconciles an add_subids_to_cart completion. The
// order is load-bearing: the blanket task rollback runs first and the
// per-item forward transitions overwrite it for items that did
// succeed. If anything made it into the cart, checkout is dispatched
// immediately; otherwise the bot is released.
func (o *Orchestrator) handleCartResult(ctx context.Context, task edge.Task, bot *edge.Bot, server *edge.Server, result edge.TaskResult) error {
	if result.Cart == nil {
		log.WithField("task_id", task.TaskID).Error("cart task completed without cart payload")
		o.setBotStatus(ctx, bot.NetworkID, edge.BotStandingBy)
		return nil
	}
	cart := result.Cart

	if err := o.Reconciler.RollbackTask(ctx, task.TaskID); err != nil {
		return err
	}

	if len(cart.FailedShoppingCartGIDs) > 0 {
		log.WithField("count", len(cart.FailedShoppingCartGIDs)).Info("previously committed carts reported failed")
		for _, gid := range cart.FailedShoppingCartGIDs {
			if err := o.Reconciler.RollbackCart(ctx, gid); err != nil {
				return err
			}
		}
	}

	if len(cart.FailedItems) > 0 {
		log.WithField("count", len(cart.FailedItems)).Info("items failed to add to cart")
		for _, item := range cart.FailedItems {
			kind, err := item.Kind()
			if err != nil {
				log.WithFields(log.Fields{"item": item, "err": err}).Error("failed item with bad relation type")
				continue
			}
			taskID := task.TaskID
			botID := bot.NetworkID
			err = o.Reconciler.SetCommitment(ctx, kind, item.RelationID, relation.CommitmentUpdate{
				Level:        relation.FailedToAddToCart,
				TaskID:       &taskID,
				CommittedBot: &botID,
			})
			if err != nil {
				return err
			}
		}
	}

	log.WithField("count", len(cart.SuccessfulItems)).Info("items added to cart")
	for _, item := range cart.SuccessfulItems {
		kind, err := item.Kind()
		if err != nil {
			log.WithFields(log.Fields{"item": item, "err": err}).Error("successful item with bad relation type")
			continue
		}
		gid := cart.ShoppingCartGID
		err = o.Reconciler.SetCommitment(ctx, kind, item.RelationID, relation.CommitmentUpdate{
			Level:           relation.AddedToCart,
			ShoppingCartGID: &gid,
		})
		if err != nil {
			return err
		}
	}

	if len(cart.SuccessfulItems) == 0 {
		o.setBotStatus(ctx, bot.NetworkID, edge.BotStandingBy)
		return nil
	}

	o.dispatchCheckout(ctx, bot, server, cart.SuccessfulItems)
	return nil
}

// dispatchCheckout claims the bot for purchasing and starts checkout.
// The giftee is derived from the first successful item's user; the
// configured global id is only a legacy fallback.
func (o *Orchestrator) dispatchCheckout(ctx context.Context, bot *edge.Bot, server *edge.Server, successful []relation.CartItem) {
	giftee := o.GifteeAccountID
	if len(successful) > 0 && successful[0].UserID != 0 {
		accountID, err := o.Relations.ExternalAccountID(ctx, successful[0].UserID)
		if err != nil {
			log.WithFields(log.Fields{"user": successful[0].UserID, "err": err}).Warn("falling back to configured giftee account")
		} else {
			giftee = accountID
		}
	}

	o.setBotStatus(ctx, bot.NetworkID, edge.BotPurchasingCart)

	ref, err := o.Edge.Checkout(ctx, server, bot.NetworkID, giftee, o.PaymentMethod)
	if err != nil {
		o.blockBot(ctx, bot.NetworkID, "checkout dispatch failed")
		return
	}
	if err := o.Tasks.CreateTask(ctx, bot.ID, server.ID, *ref); err != nil {
		log.WithFields(log.Fields{"task_id": ref.TaskID, "err": err}).Error("failed to register checkout task")
		o.blockBot(ctx, bot.NetworkID, "task registration failed")
		return
	}

	log.WithFields(log.Fields{"bot": bot.NetworkID, "task_id": ref.TaskID}).Info("checkout dispatched")
}

// handleCheckoutResult reconciles a checkout_cart completion: either a
// bare storefront code that maps onto the bot state machine, or an OK
// payload that commits the purchase (account payment) or continues
// into the external payment flow (bitcoin).
func (o *Orchestrator) handleCheckoutResult(ctx context.Context, task edge.Task, bot *edge.Bot, server *edge.Server, result edge.TaskResult) error {
	if result.Code != nil {
		o.applyCheckoutCode(ctx, bot, *result.Code)
		return nil
	}

	checkout := result.Checkout
	if checkout == nil {
		log.WithField("task_id", task.TaskID).Error("checkout task completed without payload")
		o.blockBot(ctx, bot.NetworkID, "malformed checkout result")
		return nil
	}

	log.WithFields(log.Fields{
		"payment_method": checkout.PaymentMethod,
		"result":         edge.TransactionResult(checkout.Result),
	}).Info("cart checkout completed")

	if edge.TransactionResult(checkout.Result) != edge.TxOK {
		o.blockBot(ctx, bot.NetworkID, "checkout returned non-OK result")
		return nil
	}

	switch checkout.PaymentMethod {
	case "bitcoin":
		ref, err := o.Edge.TransactionLink(ctx, server, checkout.TransID, bot.NetworkID)
		if err != nil {
			o.blockBot(ctx, bot.NetworkID, "transaction link dispatch failed")
			return nil
		}
		if err := o.Tasks.CreateTask(ctx, bot.ID, server.ID, *ref); err != nil {
			o.blockBot(ctx, bot.NetworkID, "task registration failed")
			return nil
		}
	case "steamaccount":
		if err := o.Reconciler.CommitPurchased(ctx, checkout.ShoppingCartGID); err != nil {
			return err
		}
		o.setBotStatus(ctx, bot.NetworkID, edge.BotStandingBy)
	default:
		log.WithField("payment_method", checkout.PaymentMethod).Error("checkout with unknown payment method")
		o.blockBot(ctx, bot.NetworkID, "unknown payment method")
	}

	return nil
}

// applyCheckoutCode maps a bare storefront result code onto the bot
// state machine.
func (o *Orchestrator) applyCheckoutCode(ctx context.Context, bot *edge.Bot, code edge.TransactionResult) {
	logCtx := log.WithFields(log.Fields{"bot": bot.NetworkID, "result": code})

	switch code {
	case edge.TxShoppingCartGIDNotFound:
		logCtx.Info("attempted to purchase a cart without shoppingCartGID")
		o.setBotStatus(ctx, bot.NetworkID, edge.BotStandingBy)
	case edge.TxInsufficientFunds:
		logCtx.Info("insufficient funds to complete cart checkout")
		o.setBotStatus(ctx, bot.NetworkID, edge.BotWaitingForSufficientFunds)
	case edge.TxTooManyPurchases:
		logCtx.Info("too many purchases made in the last few hours")
		o.setBotStatus(ctx, bot.NetworkID, edge.BotBlockedForTooManyPurchases)
	default:
		logCtx.Info("unable to purchase cart")
		o.blockBot(ctx, bot.NetworkID, "checkout failed: "+code.String())
	}
}

// handleExternalLink runs the external payment: extract the invoice id
// from the payment link, verify the invoice is new, check the wallet
// balance covers the due amount, send the funds with the cart gid as
// idempotency key, then commit, reset the cart and release the bot.
// On any failure the cart is left intact for manual recovery.
func (o *Orchestrator) handleExternalLink(ctx context.Context, task edge.Task, bot *edge.Bot, server *edge.Server, result edge.TaskResult) error {
	if result.Code != nil {
		log.WithField("code", *result.Code).Error("unable to obtain external transaction link")
		o.blockBot(ctx, bot.NetworkID, "external link unavailable")
		return nil
	}
	link := result.Link
	if link == nil || link.Link == "" {
		log.WithField("task_id", task.TaskID).Error("failed to retrieve an invoice url")
		o.blockBot(ctx, bot.NetworkID, "missing invoice url")
		return nil
	}

	invoiceID, ok := wallet.InvoiceIDFromLink(link.Link)
	if !ok {
		log.WithField("url", link.Link).Error("failed to extract invoice id")
		o.blockBot(ctx, bot.NetworkID, "unparseable invoice url")
		return nil
	}
	log.WithField("invoice", invoiceID).Info("found payment invoice")

	invoice, err := o.Invoices.Fetch(ctx, invoiceID)
	if err != nil {
		log.WithFields(log.Fields{"invoice": invoiceID, "err": err}).Error("failed to fetch invoice")
		o.blockBot(ctx, bot.NetworkID, "invoice fetch failed")
		return nil
	}

	if invoice.Status != "new" {
		log.WithFields(log.Fields{"invoice": invoiceID, "status": invoice.Status}).Error("invoice is not payable")
		o.blockBot(ctx, bot.NetworkID, "invoice status "+invoice.Status)
		return nil
	}

	log.WithFields(log.Fields{
		"btc_due":  invoice.BTCDue,
		"price":    invoice.Price,
		"currency": invoice.Currency,
		"address":  invoice.BitcoinAddress,
	}).Info("invoice ready for payment")

	account, err := o.Wallet.PrimaryAccount(ctx)
	if err != nil {
		log.WithField("err", err).Error("failed to load primary wallet account")
		o.blockBot(ctx, bot.NetworkID, "wallet account unavailable")
		return nil
	}

	balance, err := account.Balance.Float()
	if err != nil {
		o.blockBot(ctx, bot.NetworkID, "unreadable wallet balance")
		return nil
	}
	due, err := strconv.ParseFloat(invoice.BTCDue, 64)
	if err != nil {
		o.blockBot(ctx, bot.NetworkID, "unreadable invoice amount")
		return nil
	}
	if balance < due {
		log.WithFields(log.Fields{"balance": balance, "due": due}).Info("insufficient wallet funds for transaction")
		o.setBotStatus(ctx, bot.NetworkID, edge.BotWaitingForSufficientFunds)
		return nil
	}

	estFee := "0"
	if o.EstimateFee != nil {
		estFee = o.EstimateFee(ctx)
	}
	log.WithFields(log.Fields{
		"amount":  invoice.BTCDue,
		"address": invoice.BitcoinAddress,
		"cart":    link.ShoppingCartGID,
		"est_fee": estFee,
	}).Info("sending wallet funds")

	if _, err := o.Wallet.SendMoney(ctx, account.ID, invoice.BitcoinAddress, invoice.BTCDue, link.ShoppingCartGID); err != nil {
		log.WithField("err", err).Error("wallet transaction failed")
		o.blockBot(ctx, bot.NetworkID, "wallet send failed")
		return nil
	}

	if err := o.Reconciler.CommitPurchased(ctx, link.ShoppingCartGID); err != nil {
		return err
	}

	if ref, err := o.Edge.ResetCart(ctx, server, bot.NetworkID); err != nil {
		log.WithField("err", err).Error("cart reset dispatch failed")
	} else if err := o.Tasks.CreateTask(ctx, bot.ID, server.ID, *ref); err != nil {
		log.WithFields(log.Fields{"task_id": ref.TaskID, "err": err}).Error("failed to register reset task")
	}

	o.setBotStatus(ctx, bot.NetworkID, edge.BotStandingBy)
	return nil
}
