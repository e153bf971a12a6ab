package relation

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Candidate is one relation row as loaded by the persistence gateway,
// joined with its request, product and user. The selector turns a set
// of candidates into the per-user, per-currency dispatch batch.
type Candidate struct {
	Kind         Kind
	RelationID   int64
	RequestID    int64
	UserID       int64
	SubID        int64
	StoreSubID   int64
	CurrencyCode string
	HasAntiCheat bool
	CommittedBot string

	// User-kind promotion fields; zero-valued for paid candidates.
	Promotion                  bool
	PaidBeforePromotionEndDate bool
	Informed                   bool
	ExpirationDate             *time.Time
}

// EffectiveSubID is the store package actually purchasable for the
// product: the curated sub id when present, else the crawled one.
func (c Candidate) EffectiveSubID() int64 {
	if c.SubID != 0 {
		return c.SubID
	}
	return c.StoreSubID
}

// Group is the dispatch unit for one (user, currency) tuple.
type Group struct {
	Items []CartItem

	// CommittedBot is the network id recorded when the invite was
	// sent, taken from the first candidate that carries one. Empty
	// until the invite stage has run.
	CommittedBot string
}

// Batch maps user id -> currency code -> dispatch group.
type Batch map[int64]map[string]*Group

// BuildBatch filters and groups candidates for one pipeline stage.
// Paid candidates are consumed before user candidates so that a sub-id
// requested through both kinds is dispatched exactly once, on the paid
// side. Candidates lacking an effective sub id or a price currency are
// skipped, as are products on the wrong side of the anticheat policy
// and user requests whose promotion lapsed before payment.
func BuildBatch(candidates []Candidate, anticheatPolicy bool, now time.Time) Batch {
	batch := Batch{}
	seen := map[int64]map[int64]bool{}

	for _, c := range candidates {
		if c.Kind == KindUserRequest && c.skipLapsedPromotion(now) {
			continue
		}

		subID := c.EffectiveSubID()
		if subID == 0 {
			log.WithFields(log.Fields{
				"kind":     c.Kind,
				"relation": c.RelationID,
			}).Info("skipping relation without sub id")
			continue
		}

		if c.CurrencyCode == "" {
			log.WithFields(log.Fields{
				"kind":     c.Kind,
				"relation": c.RelationID,
			}).Info("skipping relation without price currency")
			continue
		}

		if c.HasAntiCheat != anticheatPolicy {
			continue
		}

		if seen[c.UserID][subID] {
			continue
		}

		if batch[c.UserID] == nil {
			batch[c.UserID] = map[string]*Group{}
		}
		group := batch[c.UserID][c.CurrencyCode]
		if group == nil {
			group = &Group{}
			batch[c.UserID][c.CurrencyCode] = group
		}

		group.Items = append(group.Items, CartItem{
			SubID:      subID,
			UserID:     c.UserID,
			Type:       c.Kind.WireCode(),
			RelationID: c.RelationID,
		})
		if group.CommittedBot == "" {
			group.CommittedBot = c.CommittedBot
		}

		if seen[c.UserID] == nil {
			seen[c.UserID] = map[int64]bool{}
		}
		seen[c.UserID][subID] = true
	}

	return batch
}

// skipLapsedPromotion reports whether a user request rode a promotion
// it never paid for and the promotion window has closed. Requests the
// user was informed about are kept.
func (c Candidate) skipLapsedPromotion(now time.Time) bool {
	return c.Promotion &&
		!c.PaidBeforePromotionEndDate &&
		!c.Informed &&
		c.ExpirationDate != nil &&
		c.ExpirationDate.Before(now)
}
