package relation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/edgecommerce/edge-dispatch/internal/cache"
	"github.com/edgecommerce/edge-dispatch/internal/events"
)

// CommitmentUpdate carries the fields of a single relation write.
// Optional fields are only written when non-nil, mirroring the
// conditional update statements of the persistence gateway.
type CommitmentUpdate struct {
	Level           Commitment
	TaskID          *string
	CommittedBot    *string
	ShoppingCartGID *string

	// ClearBinding resets task id, bot and cart gid to NULL in the
	// same statement. Used by full rollbacks.
	ClearBinding bool
}

// CartRelation is a relation bound to a shopping cart gid, with enough
// request context to run the assignment cascade.
type CartRelation struct {
	Kind       Kind
	RelationID int64
	RequestID  int64
	AssignedTo *int64
}

// Store is the persistence surface the reconciler drives. Implemented
// by the postgres gateway; tests provide in-memory fakes.
type Store interface {
	SetCommitment(ctx context.Context, kind Kind, relationID int64, update CommitmentUpdate) error
	RollbackByTask(ctx context.Context, taskID string) error
	RollbackByCart(ctx context.Context, shoppingCartGID string) error
	RelationsByCart(ctx context.Context, shoppingCartGID string) ([]CartRelation, error)
	SetRelationSent(ctx context.Context, kind Kind, relationID int64) error
	RequestForRelation(ctx context.Context, kind Kind, relationID int64) (int64, error)
	AssignRequest(ctx context.Context, kind Kind, requestID, ownerID int64) error
	AcceptRequest(ctx context.Context, kind Kind, requestID, ownerID int64) error
	AcceptableRequests(ctx context.Context, kind Kind, ownerID int64) ([]int64, error)
}

// Reconciler applies commitment transitions and cascades their
// request-level effects. Every write purges the affected cache keys;
// purchase commits and rollbacks are also published on the event
// stream.
type Reconciler struct {
	OwnerID int64

	store  Store
	cache  cache.Invalidator
	events events.Publisher
}

func NewReconciler(ownerID int64, store Store, inv cache.Invalidator, pub events.Publisher) *Reconciler {
	if inv == nil {
		inv = cache.Noop{}
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Reconciler{OwnerID: ownerID, store: store, cache: inv, events: pub}
}

// wildcardKeys invalidates every cached relation of both kinds. The
// '*' expands at the cache backend.
var wildcardKeys = []string{
	string(KindPaidRequest) + "/relation/*",
	string(KindUserRequest) + "/relation/*",
}

func relationKey(kind Kind, relationID int64) string {
	return fmt.Sprintf("%s/relation/%d", kind, relationID)
}

// SetCommitment writes one relation's commitment level plus whichever
// bindings the update carries, then purges its cache key.
func (r *Reconciler) SetCommitment(ctx context.Context, kind Kind, relationID int64, update CommitmentUpdate) error {
	if err := r.store.SetCommitment(ctx, kind, relationID, update); err != nil {
		return fmt.Errorf("set commitment on %s relation %d: %w", kind, relationID, err)
	}
	r.purge(ctx, relationKey(kind, relationID))
	return nil
}

// CommitItems moves every item of a dispatch group to the given level,
// binding the task id and bot network id.
func (r *Reconciler) CommitItems(ctx context.Context, items []CartItem, level Commitment, taskID, committedBot string) error {
	for _, item := range items {
		kind, err := item.Kind()
		if err != nil {
			return err
		}
		update := CommitmentUpdate{Level: level}
		if taskID != "" {
			update.TaskID = &taskID
		}
		if committedBot != "" {
			update.CommittedBot = &committedBot
		}
		if err := r.SetCommitment(ctx, kind, item.RelationID, update); err != nil {
			return err
		}
	}
	return nil
}

// RollbackTask returns every relation bound to a task id to
// Uncommitted and clears the task binding. Forward transitions applied
// afterwards for individual items overwrite this blanket rollback.
func (r *Reconciler) RollbackTask(ctx context.Context, taskID string) error {
	if err := r.store.RollbackByTask(ctx, taskID); err != nil {
		return fmt.Errorf("rollback task %s: %w", taskID, err)
	}
	r.purge(ctx, wildcardKeys...)
	r.publish(ctx, taskID, events.CartRolledBack, map[string]any{"task_id": taskID})
	return nil
}

// RollbackCart fully unwinds every relation bound to a shopping cart
// gid the edge reported as failed: level, task id, bot and gid are all
// cleared.
func (r *Reconciler) RollbackCart(ctx context.Context, shoppingCartGID string) error {
	if err := r.store.RollbackByCart(ctx, shoppingCartGID); err != nil {
		return fmt.Errorf("rollback cart %s: %w", shoppingCartGID, err)
	}
	r.purge(ctx, wildcardKeys...)
	r.publish(ctx, shoppingCartGID, events.CartRolledBack, map[string]any{"shopping_cart_gid": shoppingCartGID})
	return nil
}

// AssignRequests assigns the request behind each item to the owner.
func (r *Reconciler) AssignRequests(ctx context.Context, items []CartItem) error {
	for _, item := range items {
		kind, err := item.Kind()
		if err != nil {
			return err
		}
		requestID, err := r.store.RequestForRelation(ctx, kind, item.RelationID)
		if err != nil {
			return fmt.Errorf("resolve request for %s relation %d: %w", kind, item.RelationID, err)
		}
		if err := r.store.AssignRequest(ctx, kind, requestID, r.OwnerID); err != nil {
			return fmt.Errorf("assign %s request %d: %w", kind, requestID, err)
		}
	}
	return nil
}

// CommitPurchased marks every relation bound to a shopping cart gid as
// purchased and cascades the request-level effects: the relation is
// flagged sent, an unassigned request is assigned to the owner, and
// every request of either kind left with zero unsent products while
// assigned to the owner is accepted. All writes are convergent, so
// re-applying the commit after a crash is harmless.
func (r *Reconciler) CommitPurchased(ctx context.Context, shoppingCartGID string) error {
	bound, err := r.store.RelationsByCart(ctx, shoppingCartGID)
	if err != nil {
		return fmt.Errorf("load relations for cart %s: %w", shoppingCartGID, err)
	}

	for _, rel := range bound {
		if err := r.SetCommitment(ctx, rel.Kind, rel.RelationID, CommitmentUpdate{Level: Purchased}); err != nil {
			return err
		}
		if err := r.store.SetRelationSent(ctx, rel.Kind, rel.RelationID); err != nil {
			return fmt.Errorf("mark %s relation %d sent: %w", rel.Kind, rel.RelationID, err)
		}
		if rel.AssignedTo == nil {
			if err := r.store.AssignRequest(ctx, rel.Kind, rel.RequestID, r.OwnerID); err != nil {
				return fmt.Errorf("assign %s request %d: %w", rel.Kind, rel.RequestID, err)
			}
		}
		r.publish(ctx, shoppingCartGID, events.RelationPurchased, map[string]any{
			"kind":              rel.Kind,
			"relation_id":       rel.RelationID,
			"request_id":        rel.RequestID,
			"shopping_cart_gid": shoppingCartGID,
		})
	}

	for _, kind := range Kinds {
		ready, err := r.store.AcceptableRequests(ctx, kind, r.OwnerID)
		if err != nil {
			return fmt.Errorf("list acceptable %s requests: %w", kind, err)
		}
		for _, requestID := range ready {
			if err := r.store.AcceptRequest(ctx, kind, requestID, r.OwnerID); err != nil {
				return fmt.Errorf("accept %s request %d: %w", kind, requestID, err)
			}
			log.WithFields(log.Fields{
				"kind":    kind,
				"request": requestID,
				"owner":   r.OwnerID,
			}).Info("accepted fully sent request")
		}
	}

	return nil
}

func (r *Reconciler) purge(ctx context.Context, keys ...string) {
	if err := r.cache.Purge(ctx, keys...); err != nil {
		log.WithFields(log.Fields{"keys": keys, "err": err}).Warn("cache purge failed")
	}
}

func (r *Reconciler) publish(ctx context.Context, key string, eventType string, data map[string]any) {
	if err := r.events.Publish(ctx, key, events.New(eventType, key, data)); err != nil {
		log.WithFields(log.Fields{"event": eventType, "err": err}).Warn("event publish failed")
	}
}
