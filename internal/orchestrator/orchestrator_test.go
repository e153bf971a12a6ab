package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
	"github.com/edgecommerce/edge-dispatch/internal/relation"
	"github.com/edgecommerce/edge-dispatch/internal/wallet"
)

// fakeRelations serves selector candidates keyed by (kind, level).
type fakeRelations struct {
	candidates map[relation.Kind]map[relation.Commitment][]relation.Candidate
	accounts   map[int64]string
}

func newFakeRelations() *fakeRelations {
	return &fakeRelations{
		candidates: map[relation.Kind]map[relation.Commitment][]relation.Candidate{},
		accounts:   map[int64]string{},
	}
}

func (f *fakeRelations) addCandidate(level relation.Commitment, c relation.Candidate) {
	if f.candidates[c.Kind] == nil {
		f.candidates[c.Kind] = map[relation.Commitment][]relation.Candidate{}
	}
	f.candidates[c.Kind][level] = append(f.candidates[c.Kind][level], c)
}

func (f *fakeRelations) PendingRelations(_ context.Context, kind relation.Kind, level relation.Commitment) ([]relation.Candidate, error) {
	return f.candidates[kind][level], nil
}

func (f *fakeRelations) ExternalAccountID(_ context.Context, userID int64) (string, error) {
	id, ok := f.accounts[userID]
	if !ok {
		return "", fmt.Errorf("no external account for user %d", userID)
	}
	return id, nil
}

// fakeBots keeps the fleet in memory; status writes are recorded in
// order for assertions.
type fakeBots struct {
	bots        []*edge.Bot
	servers     []*edge.Server
	statusTrail map[string][]edge.BotStatus
	healthTouch []int64
}

func newFakeBots() *fakeBots {
	return &fakeBots{statusTrail: map[string][]edge.BotStatus{}}
}

func (f *fakeBots) BotForCurrency(_ context.Context, currencyCode string, botType edge.BotType) (*edge.Bot, error) {
	for _, b := range f.bots {
		if b.CurrencyCode == currencyCode && b.Type == botType && b.Status == edge.BotStandingBy {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeBots) BotByNetworkID(_ context.Context, networkID string) (*edge.Bot, error) {
	for _, b := range f.bots {
		if b.NetworkID == networkID {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeBots) BotByID(_ context.Context, id int64) (*edge.Bot, error) {
	for _, b := range f.bots {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeBots) SetBotStatus(_ context.Context, networkID string, status edge.BotStatus) error {
	for _, b := range f.bots {
		if b.NetworkID == networkID {
			b.Status = status
			f.statusTrail[networkID] = append(f.statusTrail[networkID], status)
			return nil
		}
	}
	return fmt.Errorf("no bot %s", networkID)
}

func (f *fakeBots) ServerForCurrency(_ context.Context, currencyCode string) (*edge.Server, error) {
	for _, s := range f.servers {
		if s.CurrencyCode == currencyCode && s.Status == edge.ServerEnabled {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeBots) ServerByID(_ context.Context, id int64) (*edge.Server, error) {
	for _, s := range f.servers {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeBots) TouchServerHealth(_ context.Context, serverID int64) error {
	f.healthTouch = append(f.healthTouch, serverID)
	return nil
}

// fakeTasks records created tasks and serves the pending list.
type fakeTasks struct {
	created  []edge.Task
	pending  []edge.Task
	statuses map[string]edge.TaskStatus
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{statuses: map[string]edge.TaskStatus{}}
}

func (f *fakeTasks) CreateTask(_ context.Context, botID, serverID int64, ref edge.TaskRef) error {
	f.created = append(f.created, edge.Task{
		TaskID:   ref.TaskID,
		TaskName: ref.TaskName,
		Status:   edge.TaskPending,
		BotID:    botID,
		ServerID: serverID,
	})
	return nil
}

func (f *fakeTasks) PendingTasks(_ context.Context) ([]edge.Task, error) {
	return f.pending, nil
}

func (f *fakeTasks) UpdateTaskStatus(_ context.Context, taskID string, status edge.TaskStatus) error {
	f.statuses[taskID] = status
	return nil
}

// fakeLedger is an in-memory relation.Store tracking commitment writes.
type ledgerRow struct {
	kind    relation.Kind
	level   relation.Commitment
	taskID  *string
	bot     *string
	cartGID *string
	sent    bool
	request int64
}

type fakeLedger struct {
	rows       map[int64]*ledgerRow
	assigned   map[int64]*int64
	accepted   map[int64]bool
	acceptable map[relation.Kind][]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rows:       map[int64]*ledgerRow{},
		assigned:   map[int64]*int64{},
		accepted:   map[int64]bool{},
		acceptable: map[relation.Kind][]int64{},
	}
}

func (f *fakeLedger) add(relationID int64, kind relation.Kind, requestID int64) *ledgerRow {
	row := &ledgerRow{kind: kind, request: requestID}
	f.rows[relationID] = row
	return row
}

func (f *fakeLedger) SetCommitment(_ context.Context, kind relation.Kind, relationID int64, update relation.CommitmentUpdate) error {
	row, ok := f.rows[relationID]
	if !ok {
		return fmt.Errorf("no relation %d", relationID)
	}
	row.level = update.Level
	if update.TaskID != nil {
		row.taskID = update.TaskID
	}
	if update.CommittedBot != nil {
		row.bot = update.CommittedBot
	}
	if update.ShoppingCartGID != nil {
		row.cartGID = update.ShoppingCartGID
	}
	if update.ClearBinding {
		row.taskID, row.bot, row.cartGID = nil, nil, nil
	}
	return nil
}

func (f *fakeLedger) RollbackByTask(_ context.Context, taskID string) error {
	for _, row := range f.rows {
		if row.taskID != nil && *row.taskID == taskID {
			row.level = relation.Uncommitted
			row.taskID = nil
		}
	}
	return nil
}

func (f *fakeLedger) RollbackByCart(_ context.Context, gid string) error {
	for _, row := range f.rows {
		if row.cartGID != nil && *row.cartGID == gid {
			row.level = relation.Uncommitted
			row.taskID, row.bot, row.cartGID = nil, nil, nil
		}
	}
	return nil
}

func (f *fakeLedger) RelationsByCart(_ context.Context, gid string) ([]relation.CartRelation, error) {
	var out []relation.CartRelation
	for id, row := range f.rows {
		if row.cartGID != nil && *row.cartGID == gid {
			out = append(out, relation.CartRelation{
				Kind:       row.kind,
				RelationID: id,
				RequestID:  row.request,
				AssignedTo: f.assigned[row.request],
			})
		}
	}
	return out, nil
}

func (f *fakeLedger) SetRelationSent(_ context.Context, _ relation.Kind, relationID int64) error {
	f.rows[relationID].sent = true
	return nil
}

func (f *fakeLedger) RequestForRelation(_ context.Context, _ relation.Kind, relationID int64) (int64, error) {
	row, ok := f.rows[relationID]
	if !ok {
		return 0, fmt.Errorf("no relation %d", relationID)
	}
	return row.request, nil
}

func (f *fakeLedger) AssignRequest(_ context.Context, _ relation.Kind, requestID, ownerID int64) error {
	if cur := f.assigned[requestID]; cur != nil && *cur != ownerID {
		return nil
	}
	f.assigned[requestID] = &ownerID
	return nil
}

func (f *fakeLedger) AcceptRequest(_ context.Context, _ relation.Kind, requestID, ownerID int64) error {
	f.accepted[requestID] = true
	return nil
}

func (f *fakeLedger) AcceptableRequests(_ context.Context, kind relation.Kind, _ int64) ([]int64, error) {
	return f.acceptable[kind], nil
}

// fakeWallet satisfies Wallet without touching the network.
type fakeWallet struct {
	balance string
	sends   []string // idempotency tokens
	sendErr error
}

func (f *fakeWallet) PrimaryAccount(_ context.Context) (*wallet.Account, error) {
	return &wallet.Account{ID: "acct-1", Balance: wallet.Money{Amount: f.balance, Currency: "BTC"}}, nil
}

func (f *fakeWallet) SendMoney(_ context.Context, _, _, _, idem string) (*wallet.Transaction, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, idem)
	return &wallet.Transaction{ID: "tx-1"}, nil
}

type fakeInvoices struct {
	invoices map[string]*wallet.Invoice
}

func (f *fakeInvoices) Fetch(_ context.Context, invoiceID string) (*wallet.Invoice, error) {
	invoice, ok := f.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("no invoice %s", invoiceID)
	}
	return invoice, nil
}

// harness bundles the orchestrator with all its fakes and an httptest
// edge server.
type harness struct {
	o         *Orchestrator
	relations *fakeRelations
	bots      *fakeBots
	tasks     *fakeTasks
	ledger    *fakeLedger
	wallet    *fakeWallet
	invoices  *fakeInvoices
}

func newHarness(t *testing.T, edgeHandler http.Handler) *harness {
	t.Helper()

	h := &harness{
		relations: newFakeRelations(),
		bots:      newFakeBots(),
		tasks:     newFakeTasks(),
		ledger:    newFakeLedger(),
		wallet:    &fakeWallet{balance: "1.0"},
		invoices:  &fakeInvoices{invoices: map[string]*wallet.Invoice{}},
	}

	ip := "127.0.0.1:1" // unreachable unless a handler is given
	if edgeHandler != nil {
		srv := httptest.NewServer(edgeHandler)
		t.Cleanup(srv.Close)
		ip = strings.TrimPrefix(srv.URL, "http://")
	}
	h.bots.servers = []*edge.Server{
		{ID: 1, IPAddress: ip, CurrencyCode: "USD", Status: edge.ServerEnabled},
	}

	h.o = &Orchestrator{
		OwnerID:         99,
		GifteeAccountID: "giftee-default",
		PaymentMethod:   "steamaccount",
		Relations:       h.relations,
		Bots:            h.bots,
		Tasks:           h.tasks,
		Edge:            edge.NewClient(),
		Reconciler:      relation.NewReconciler(99, h.ledger, nil, nil),
		Wallet:          h.wallet,
		Invoices:        h.invoices,
	}
	return h
}

func (h *harness) addBot(id int64, networkID string, botType edge.BotType, status edge.BotStatus) *edge.Bot {
	bot := &edge.Bot{ID: id, NetworkID: networkID, CurrencyCode: "USD", Type: botType, Status: status}
	h.bots.bots = append(h.bots.bots, bot)
	return bot
}
