/**
 * @description
 * This file defines the promotion plan catalog for the payment service. Each plan
 * is a fixed-price tier with an authoritative on-chain payment amount. The catalog
 * is a static, immutable value loaded once at process start; nothing in the service
 * mutates it.
 *
 * @notes
 * - Payment amounts are stored in lamports (the smallest SOL denomination) as
 *   unsigned integers. The `usd` figure is informational only and is never used
 *   for payment validation.
 */

package domain

import "github.com/shopspring/decimal"

// PlanID identifies a purchasable promotion tier.
type PlanID string

// The closed set of plan identifiers, ordered low to high tier.
const (
	PlanDiscovery     PlanID = "discovery"
	PlanStarter       PlanID = "starter"
	PlanGrowth        PlanID = "growth"
	PlanAuthority     PlanID = "authority"
	PlanAuthorityPlus PlanID = "authority_plus"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Plan describes a purchasable promotion tier.
type Plan struct {
	ID       PlanID          `json:"id"`
	Label    string          `json:"label"`
	USD      decimal.Decimal `json:"usd"`
	Lamports uint64          `json:"lamports"`
	Features []string        `json:"features"`
	Purpose  string          `json:"purpose"`
}

// SOLAmount returns the plan's required payment as a decimal SOL string,
// e.g. "0.1" for the discovery plan.
func (p Plan) SOLAmount() string {
	return decimal.New(int64(p.Lamports), -9).String()
}

var planOrder = []PlanID{
	PlanDiscovery,
	PlanStarter,
	PlanGrowth,
	PlanAuthority,
	PlanAuthorityPlus,
}

var plans = map[PlanID]Plan{
	PlanDiscovery: {
		ID:       PlanDiscovery,
		Label:    "$15 Discovery Raffle",
		USD:      decimal.NewFromInt(15),
		Lamports: 100_000_000, // 0.1 SOL
		Features: []string{
			"Project discovery listing",
			"Search indexing (token name + contract address)",
			"Entry into a raffle to win a DEX banner placement or a discount",
		},
		Purpose: "Purpose: Discovery + early visibility",
	},
	PlanStarter: {
		ID:       PlanStarter,
		Label:    "$250 DEX Starter",
		USD:      decimal.NewFromInt(250),
		Lamports: 1 * LamportsPerSOL,
		Features: []string{
			"Banner ads on DexScreener",
			"Banner ads on DEXTools",
			"Basic SEO (token name, ticker, contract address)",
			"Community raiding (awareness push)",
			"Light organic activity support",
		},
		Purpose: "Purpose: Visibility + early chart momentum",
	},
	PlanGrowth: {
		ID:       PlanGrowth,
		Label:    "$400 DEX Growth",
		USD:      decimal.NewFromInt(400),
		Lamports: 1_600_000_000, // 1.6 SOL
		Features: []string{
			"Banner ads on DexScreener",
			"Banner ads on DEXTools",
			"Banner ads on Birdeye",
			"Featured search placement",
			"Advanced SEO",
			"Community raiding + structured promotion",
			"Sustained authentic activity support",
		},
		Purpose: "Purpose: Consistent volume + stronger market trust",
	},
	PlanAuthority: {
		ID:       PlanAuthority,
		Label:    "$600 DEX Authority (KOL Access)",
		USD:      decimal.NewFromInt(600),
		Lamports: 2_400_000_000, // 2.4 SOL
		Features: []string{
			"Premium banners on DexScreener",
			"Premium banners on DEXTools",
			"Premium banners on Birdeye",
			"Top search ranking",
			"High-quality activity strategy",
			"Access to larger accounts + verified promoters",
			"KOL / influencer exposure",
			"Private alpha community visibility",
		},
		Purpose: "Purpose: Strong positioning + credibility",
	},
	PlanAuthorityPlus: {
		ID:       PlanAuthorityPlus,
		Label:    "$1000 DEX Authority (Premium)",
		USD:      decimal.NewFromInt(1000),
		Lamports: 4 * LamportsPerSOL,
		Features: []string{
			"Premium banners on DexScreener",
			"Premium banners on DEXTools",
			"Premium banners on Birdeye",
			"Top search ranking",
			"High-quality activity strategy",
			"Access to larger accounts + verified promoters",
			"KOL / influencer exposure",
			"Private alpha community visibility",
		},
		Purpose: "Purpose: Maximum visibility + premium credibility",
	},
}

// PlanByID looks up a plan in the static catalog. The second return value
// reports whether the identifier is known.
func PlanByID(id PlanID) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}

// Plans returns the full catalog ordered low to high tier.
func Plans() []Plan {
	out := make([]Plan, 0, len(planOrder))
	for _, id := range planOrder {
		out = append(out, plans[id])
	}
	return out
}
