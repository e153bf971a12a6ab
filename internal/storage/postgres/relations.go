package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/edgecommerce/edge-dispatch/internal/relation"
)

// kindTables dispatches the parametric relation repository onto the
// concrete table pair of each request kind. paidColumn is the per-kind
// "user has committed money" flag.
type kindTables struct {
	relations  string
	requests   string
	paidColumn string
}

var tablesByKind = map[relation.Kind]kindTables{
	relation.KindUserRequest: {
		relations:  "userrequest_relations",
		requests:   "userrequests",
		paidColumn: "paid",
	},
	relation.KindPaidRequest: {
		relations:  "paidrequest_relations",
		requests:   "paidrequests",
		paidColumn: "authed",
	},
}

func kindOf(kind relation.Kind) (kindTables, error) {
	t, ok := tablesByKind[kind]
	if !ok {
		return kindTables{}, fmt.Errorf("unknown relation kind %q", kind)
	}
	return t, nil
}

// PendingRelations returns the selector's candidate rows for one kind
// at one commitment level: unsent relations whose request is visible,
// unaccepted, funded, and unassigned or assigned to the gateway owner,
// joined with product and user data. Promotion columns only exist on
// the user kind; the paid query selects constants in their place so
// both share one scan.
func (g *Gateway) PendingRelations(ctx context.Context, kind relation.Kind, level relation.Commitment) ([]relation.Candidate, error) {
	t, err := kindOf(kind)
	if err != nil {
		return nil, err
	}

	paidCond := fmt.Sprintf("req.%s = TRUE", t.paidColumn)
	if kind == relation.KindUserRequest && g.UseInformed {
		paidCond = "(req.paid = TRUE OR req.informed = TRUE)"
	}

	promoCols := "FALSE, FALSE, FALSE, NULL::timestamptz"
	if kind == relation.KindUserRequest {
		promoCols = "req.promotion, req.paid_before_promotion_end_date, req.informed, req.expiration_date"
	}

	query := fmt.Sprintf(`
        SELECT r.id, r.request_id, req.user_id,
               COALESCE(p.sub_id, 0), COALESCE(p.store_sub_id, 0),
               COALESCE(p.price_currency, ''), p.has_anticheat,
               COALESCE(r.committed_on_bot, ''),
               %s
        FROM %s r
        JOIN %s req ON req.id = r.request_id
        JOIN products p ON p.id = r.product_id
        WHERE r.commitment_level = $1
          AND r.sent = FALSE
          AND req.visible = TRUE
          AND req.accepted = FALSE
          AND (req.assigned_user_id IS NULL OR req.assigned_user_id = $2)
          AND %s
        ORDER BY r.id
    `, promoCols, t.relations, t.requests, paidCond)

	rows, err := g.DB.QueryContext(ctx, query, int(level), g.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("select pending %s relations: %w", kind, err)
	}
	defer rows.Close()

	var out []relation.Candidate
	for rows.Next() {
		c := relation.Candidate{Kind: kind}
		var expiration sql.NullTime
		if err := rows.Scan(
			&c.RelationID, &c.RequestID, &c.UserID,
			&c.SubID, &c.StoreSubID,
			&c.CurrencyCode, &c.HasAntiCheat,
			&c.CommittedBot,
			&c.Promotion, &c.PaidBeforePromotionEndDate, &c.Informed, &expiration,
		); err != nil {
			return nil, fmt.Errorf("scan pending %s relation: %w", kind, err)
		}
		if expiration.Valid {
			exp := expiration.Time
			c.ExpirationDate = &exp
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCommitment writes one relation's commitment level and whichever
// bindings the update carries, as a single conditional statement.
func (g *Gateway) SetCommitment(ctx context.Context, kind relation.Kind, relationID int64, update relation.CommitmentUpdate) error {
	t, err := kindOf(kind)
	if err != nil {
		return err
	}

	sets := []string{"commitment_level = $1"}
	args := []any{int(update.Level)}

	if update.ClearBinding {
		sets = append(sets, "task_id = NULL", "committed_on_bot = NULL", "shopping_cart_gid = NULL")
	}
	if update.TaskID != nil {
		args = append(args, *update.TaskID)
		sets = append(sets, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if update.CommittedBot != nil {
		args = append(args, *update.CommittedBot)
		sets = append(sets, fmt.Sprintf("committed_on_bot = $%d", len(args)))
	}
	if update.ShoppingCartGID != nil {
		args = append(args, *update.ShoppingCartGID)
		sets = append(sets, fmt.Sprintf("shopping_cart_gid = $%d", len(args)))
	}

	args = append(args, relationID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", t.relations, strings.Join(sets, ", "), len(args))

	if _, err := g.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s relation %d: %w", kind, relationID, err)
	}
	return nil
}

// RollbackByTask returns every relation of both kinds bound to a task
// to uncommitted and drops the task binding.
func (g *Gateway) RollbackByTask(ctx context.Context, taskID string) error {
	for _, t := range tablesByKind {
		query := fmt.Sprintf(
			"UPDATE %s SET commitment_level = %d, task_id = NULL WHERE task_id = $1",
			t.relations, int(relation.Uncommitted),
		)
		if _, err := g.DB.ExecContext(ctx, query, taskID); err != nil {
			return fmt.Errorf("rollback task %s on %s: %w", taskID, t.relations, err)
		}
	}
	return nil
}

// RollbackByCart fully unwinds every relation bound to a shopping cart
// gid on both kinds.
func (g *Gateway) RollbackByCart(ctx context.Context, shoppingCartGID string) error {
	for _, t := range tablesByKind {
		query := fmt.Sprintf(
			`UPDATE %s SET commitment_level = %d, task_id = NULL,
                committed_on_bot = NULL, shopping_cart_gid = NULL
             WHERE shopping_cart_gid = $1`,
			t.relations, int(relation.Uncommitted),
		)
		if _, err := g.DB.ExecContext(ctx, query, shoppingCartGID); err != nil {
			return fmt.Errorf("rollback cart %s on %s: %w", shoppingCartGID, t.relations, err)
		}
	}
	return nil
}

// RelationsByCart loads both kinds' relations bound to a shopping cart
// gid, paid kind first, with the owning request's assignment.
func (g *Gateway) RelationsByCart(ctx context.Context, shoppingCartGID string) ([]relation.CartRelation, error) {
	var out []relation.CartRelation
	for _, kind := range relation.Kinds {
		t := tablesByKind[kind]
		query := fmt.Sprintf(`
            SELECT r.id, r.request_id, req.assigned_user_id
            FROM %s r
            JOIN %s req ON req.id = r.request_id
            WHERE r.shopping_cart_gid = $1
            ORDER BY r.id
        `, t.relations, t.requests)

		rows, err := g.DB.QueryContext(ctx, query, shoppingCartGID)
		if err != nil {
			return nil, fmt.Errorf("select %s relations for cart %s: %w", kind, shoppingCartGID, err)
		}
		for rows.Next() {
			rel := relation.CartRelation{Kind: kind}
			var assigned sql.NullInt64
			if err := rows.Scan(&rel.RelationID, &rel.RequestID, &assigned); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s cart relation: %w", kind, err)
			}
			if assigned.Valid {
				v := assigned.Int64
				rel.AssignedTo = &v
			}
			out = append(out, rel)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// SetRelationSent flags a relation's product as delivered.
func (g *Gateway) SetRelationSent(ctx context.Context, kind relation.Kind, relationID int64) error {
	t, err := kindOf(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET sent = TRUE WHERE id = $1", t.relations)
	if _, err := g.DB.ExecContext(ctx, query, relationID); err != nil {
		return fmt.Errorf("mark %s relation %d sent: %w", kind, relationID, err)
	}
	return nil
}

// RequestForRelation resolves a relation's owning request id.
func (g *Gateway) RequestForRelation(ctx context.Context, kind relation.Kind, relationID int64) (int64, error) {
	t, err := kindOf(kind)
	if err != nil {
		return 0, err
	}
	var requestID int64
	query := fmt.Sprintf("SELECT request_id FROM %s WHERE id = $1", t.relations)
	if err := g.DB.QueryRowContext(ctx, query, relationID).Scan(&requestID); err != nil {
		return 0, fmt.Errorf("request for %s relation %d: %w", kind, relationID, err)
	}
	return requestID, nil
}

// AssignRequest assigns a request to an owner. Idempotent: a request
// already assigned to the same owner is untouched, one assigned
// elsewhere is never stolen.
func (g *Gateway) AssignRequest(ctx context.Context, kind relation.Kind, requestID, ownerID int64) error {
	t, err := kindOf(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET assigned_user_id = $1 WHERE id = $2 AND (assigned_user_id IS NULL OR assigned_user_id = $1)",
		t.requests,
	)
	if _, err := g.DB.ExecContext(ctx, query, ownerID, requestID); err != nil {
		return fmt.Errorf("assign %s request %d: %w", kind, requestID, err)
	}
	return nil
}

// AcceptRequest accepts a request on behalf of the owner it is
// assigned to.
func (g *Gateway) AcceptRequest(ctx context.Context, kind relation.Kind, requestID, ownerID int64) error {
	t, err := kindOf(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET accepted = TRUE, accepted_date = $3 WHERE id = $1 AND assigned_user_id = $2 AND accepted = FALSE",
		t.requests,
	)
	if _, err := g.DB.ExecContext(ctx, query, requestID, ownerID, time.Now()); err != nil {
		return fmt.Errorf("accept %s request %d: %w", kind, requestID, err)
	}
	return nil
}

// AcceptableRequests lists the owner's unaccepted requests whose
// products are all sent.
func (g *Gateway) AcceptableRequests(ctx context.Context, kind relation.Kind, ownerID int64) ([]int64, error) {
	t, err := kindOf(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
        SELECT req.id
        FROM %s req
        WHERE req.assigned_user_id = $1
          AND req.accepted = FALSE
          AND req.visible = TRUE
          AND req.%s = TRUE
          AND NOT EXISTS (
              SELECT 1 FROM %s r WHERE r.request_id = req.id AND r.sent = FALSE
          )
        ORDER BY req.id
    `, t.requests, t.paidColumn, t.relations)

	rows, err := g.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select acceptable %s requests: %w", kind, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan acceptable %s request: %w", kind, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ExternalAccountID resolves a user's storefront account id.
func (g *Gateway) ExternalAccountID(ctx context.Context, userID int64) (string, error) {
	var accountID string
	err := g.DB.QueryRowContext(ctx, "SELECT external_account_id FROM users WHERE id = $1", userID).Scan(&accountID)
	if err != nil {
		return "", fmt.Errorf("external account id for user %d: %w", userID, err)
	}
	return accountID, nil
}
