package orchestrator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
	"github.com/edgecommerce/edge-dispatch/internal/events"
	"github.com/edgecommerce/edge-dispatch/internal/relation"
	"github.com/edgecommerce/edge-dispatch/internal/wallet"
)

// RelationSource yields the selector's candidate rows and resolves
// users to their storefront accounts.
type RelationSource interface {
	PendingRelations(ctx context.Context, kind relation.Kind, level relation.Commitment) ([]relation.Candidate, error)
	ExternalAccountID(ctx context.Context, userID int64) (string, error)
}

// BotStore reads and writes the bot and server fleet.
type BotStore interface {
	BotForCurrency(ctx context.Context, currencyCode string, botType edge.BotType) (*edge.Bot, error)
	BotByNetworkID(ctx context.Context, networkID string) (*edge.Bot, error)
	BotByID(ctx context.Context, id int64) (*edge.Bot, error)
	SetBotStatus(ctx context.Context, networkID string, status edge.BotStatus) error
	ServerForCurrency(ctx context.Context, currencyCode string) (*edge.Server, error)
	ServerByID(ctx context.Context, id int64) (*edge.Server, error)
	TouchServerHealth(ctx context.Context, serverID int64) error
}

// TaskStore is the registry of outstanding remote tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, botID, serverID int64, ref edge.TaskRef) error
	PendingTasks(ctx context.Context) ([]edge.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status edge.TaskStatus) error
}

// Wallet is the external cryptocurrency wallet used for invoice
// payments.
type Wallet interface {
	PrimaryAccount(ctx context.Context) (*wallet.Account, error)
	SendMoney(ctx context.Context, accountID, toAddress, amount, idem string) (*wallet.Transaction, error)
}

// InvoiceSource resolves payment-provider invoices.
type InvoiceSource interface {
	Fetch(ctx context.Context, invoiceID string) (*wallet.Invoice, error)
}

// Orchestrator drives the three entry loops against the edge fleet and
// reconciles their outcomes onto the relation ledger.
type Orchestrator struct {
	OwnerID         int64
	GifteeAccountID string // legacy fallback when no cart item carries a user
	PaymentMethod   string // "steamaccount" or "bitcoin"

	Relations  RelationSource
	Bots       BotStore
	Tasks      TaskStore
	Edge       *edge.Client
	Reconciler *relation.Reconciler
	Wallet     Wallet
	Invoices   InvoiceSource
	Events     events.Publisher

	// EstimateFee, when set, supplies the advisory network fee logged
	// before an external send. Purely informational; the wallet
	// provider picks the real fee.
	EstimateFee func(ctx context.Context) string
}

// stubbed in tests that exercise promotion expiry.
var timeNow = time.Now

// run-scoped memoization: healthcheck once per server, friend list
// once per bot, per command invocation.
type runState struct {
	serverHealthy map[int64]bool
	friendLists   map[string]map[string]bool
}

func newRunState() *runState {
	return &runState{
		serverHealthy: map[int64]bool{},
		friendLists:   map[string]map[string]bool{},
	}
}

func (o *Orchestrator) publisher() events.Publisher {
	if o.Events == nil {
		return events.Discard{}
	}
	return o.Events
}

// serverIsHealthy probes a server at most once per run and records the
// probe time on success.
func (o *Orchestrator) serverIsHealthy(ctx context.Context, run *runState, server *edge.Server) bool {
	if healthy, probed := run.serverHealthy[server.ID]; probed {
		return healthy
	}

	delay, err := o.Edge.Healthcheck(ctx, server)
	healthy := err == nil
	run.serverHealthy[server.ID] = healthy

	if !healthy {
		log.WithFields(log.Fields{"server": server.ID, "err": err}).Error("edge server failed healthcheck")
		return false
	}

	log.WithFields(log.Fields{"server": server.ID, "delay": delay}).Info("edge server healthy")
	if err := o.Bots.TouchServerHealth(ctx, server.ID); err != nil {
		log.WithFields(log.Fields{"server": server.ID, "err": err}).Warn("failed to record healthcheck")
	}
	return true
}

// friendList loads and memoizes a bot's friend list for this run.
func (o *Orchestrator) friendList(ctx context.Context, run *runState, server *edge.Server, networkID string) (map[string]bool, error) {
	if friends, ok := run.friendLists[networkID]; ok {
		return friends, nil
	}

	ids, err := o.Edge.FriendsList(ctx, server, networkID)
	if err != nil {
		return nil, err
	}

	friends := make(map[string]bool, len(ids))
	for _, id := range ids {
		friends[id] = true
	}
	run.friendLists[networkID] = friends
	return friends, nil
}

// selectBatch loads both kinds' candidates at a level, paid kind
// first, and groups them for dispatch.
func (o *Orchestrator) selectBatch(ctx context.Context, level relation.Commitment, anticheatPolicy bool) (relation.Batch, error) {
	var candidates []relation.Candidate
	for _, kind := range relation.Kinds {
		rows, err := o.Relations.PendingRelations(ctx, kind, level)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, rows...)
	}
	return relation.BuildBatch(candidates, anticheatPolicy, timeNow()), nil
}

// blockBot is the terminal reaction to a transport or serialization
// failure during an outbound dispatch.
func (o *Orchestrator) blockBot(ctx context.Context, networkID string, reason string) {
	if err := o.Bots.SetBotStatus(ctx, networkID, edge.BotBlockedForUnknownReason); err != nil {
		log.WithFields(log.Fields{"bot": networkID, "err": err}).Error("failed to block bot")
		return
	}
	log.WithFields(log.Fields{"bot": networkID, "reason": reason}).Warn("bot blocked")

	evt := events.New(events.BotBlocked, networkID, map[string]any{"network_id": networkID, "reason": reason})
	if err := o.publisher().Publish(ctx, networkID, evt); err != nil {
		log.WithFields(log.Fields{"bot": networkID, "err": err}).Warn("event publish failed")
	}
}

func (o *Orchestrator) setBotStatus(ctx context.Context, networkID string, status edge.BotStatus) {
	if err := o.Bots.SetBotStatus(ctx, networkID, status); err != nil {
		log.WithFields(log.Fields{"bot": networkID, "status": status, "err": err}).Error("failed to set bot status")
	}
}

func botTypeFor(anticheatPolicy bool) edge.BotType {
	if anticheatPolicy {
		return edge.BotTypeAntiCheatPurchases
	}
	return edge.BotTypePurchases
}
