package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
)

const botColumns = "id, network_id, currency_code, bot_type, status"

func scanBot(row *sql.Row) (*edge.Bot, error) {
	var bot edge.Bot
	err := row.Scan(&bot.ID, &bot.NetworkID, &bot.CurrencyCode, &bot.Type, &bot.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// BotForCurrency picks one standing-by bot of the given type for a
// currency. Returns nil when the pool has none free; picking only
// standing-by bots is what keeps a bot exclusive to one dispatch at a
// time.
func (g *Gateway) BotForCurrency(ctx context.Context, currencyCode string, botType edge.BotType) (*edge.Bot, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM edge_bots
        WHERE currency_code = $1 AND bot_type = $2 AND status = $3
        ORDER BY id
        LIMIT 1
    `, botColumns)
	bot, err := scanBot(g.DB.QueryRowContext(ctx, query, currencyCode, int(botType), int(edge.BotStandingBy)))
	if err != nil {
		return nil, fmt.Errorf("select bot for currency %s: %w", currencyCode, err)
	}
	return bot, nil
}

// BotByNetworkID loads a bot by its stable business key.
func (g *Gateway) BotByNetworkID(ctx context.Context, networkID string) (*edge.Bot, error) {
	query := fmt.Sprintf("SELECT %s FROM edge_bots WHERE network_id = $1", botColumns)
	bot, err := scanBot(g.DB.QueryRowContext(ctx, query, networkID))
	if err != nil {
		return nil, fmt.Errorf("select bot %s: %w", networkID, err)
	}
	return bot, nil
}

// BotByID loads a bot by row id.
func (g *Gateway) BotByID(ctx context.Context, id int64) (*edge.Bot, error) {
	query := fmt.Sprintf("SELECT %s FROM edge_bots WHERE id = $1", botColumns)
	bot, err := scanBot(g.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("select bot #%d: %w", id, err)
	}
	return bot, nil
}

// SetBotStatus writes a bot's state machine position. The integer
// value is persisted.
func (g *Gateway) SetBotStatus(ctx context.Context, networkID string, status edge.BotStatus) error {
	if _, err := g.DB.ExecContext(ctx,
		"UPDATE edge_bots SET status = $1 WHERE network_id = $2",
		int(status), networkID,
	); err != nil {
		return fmt.Errorf("set bot %s status %s: %w", networkID, status, err)
	}
	return nil
}

const serverColumns = "id, ip_address, currency_code, status, COALESCE(last_health_check, to_timestamp(0))"

func scanServer(row *sql.Row) (*edge.Server, error) {
	var server edge.Server
	err := row.Scan(&server.ID, &server.IPAddress, &server.CurrencyCode, &server.Status, &server.LastHealthCheck)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// ServerForCurrency picks the enabled edge server for a currency, or
// nil when none is enabled.
func (g *Gateway) ServerForCurrency(ctx context.Context, currencyCode string) (*edge.Server, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM edge_servers
        WHERE currency_code = $1 AND status = $2
        ORDER BY id
        LIMIT 1
    `, serverColumns)
	server, err := scanServer(g.DB.QueryRowContext(ctx, query, currencyCode, int(edge.ServerEnabled)))
	if err != nil {
		return nil, fmt.Errorf("select server for currency %s: %w", currencyCode, err)
	}
	return server, nil
}

// ServerByID loads a server by row id.
func (g *Gateway) ServerByID(ctx context.Context, id int64) (*edge.Server, error) {
	query := fmt.Sprintf("SELECT %s FROM edge_servers WHERE id = $1", serverColumns)
	server, err := scanServer(g.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("select server #%d: %w", id, err)
	}
	return server, nil
}

// TouchServerHealth records a successful healthcheck.
func (g *Gateway) TouchServerHealth(ctx context.Context, serverID int64) error {
	if _, err := g.DB.ExecContext(ctx,
		"UPDATE edge_servers SET last_health_check = $1 WHERE id = $2",
		time.Now(), serverID,
	); err != nil {
		return fmt.Errorf("touch server #%d health: %w", serverID, err)
	}
	return nil
}
