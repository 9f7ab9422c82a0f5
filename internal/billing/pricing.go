// Package billing reconciles payment notifications with payment tickets and grants plans.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/himera-billing/internal/domain"
	"github.com/Proton-105/himera-billing/pkg/config"
)

// Quote is the amount a ticket must be paid with.
type Quote struct {
	Amount   decimal.Decimal
	Currency string
}

// Pricing holds the price catalog and the referral reward table.
type Pricing struct {
	prices          map[domain.Plan]map[domain.Rail]decimal.Decimal
	currencies      map[domain.Rail]string
	promoFactor     decimal.Decimal
	promoCrypto     decimal.Decimal
	rewards         map[domain.Plan]int64
	destinationCard string
}

// NewPricing builds the catalog from configuration.
func NewPricing(billing config.BillingConfig, promo config.PromoConfig) (*Pricing, error) {
	p := &Pricing{
		prices: make(map[domain.Plan]map[domain.Rail]decimal.Decimal, len(billing.Prices)),
		currencies: map[domain.Rail]string{
			domain.RailCard:          billing.Currencies.Card,
			domain.RailMobileBalance: billing.Currencies.MobileBalance,
			domain.RailCrypto:        billing.Currencies.Crypto,
		},
		promoFactor: decimal.NewFromFloat(promo.DiscountFactor),
		promoCrypto: decimal.NewFromFloat(promo.CryptoPrice),
		rewards: map[domain.Plan]int64{
			domain.PlanTier1: billing.Referral.Tier1,
			domain.PlanTier2: billing.Referral.Tier2,
		},
		destinationCard: NormalizeCard(billing.DestinationCard),
	}

	for name, rails := range billing.Prices {
		plan := domain.Plan(name)
		if !plan.Paid() {
			return nil, fmt.Errorf("pricing: %q is not a purchasable plan", name)
		}

		p.prices[plan] = map[domain.Rail]decimal.Decimal{
			domain.RailCard:          decimal.NewFromFloat(rails.Card),
			domain.RailMobileBalance: decimal.NewFromFloat(rails.MobileBalance),
			domain.RailCrypto:        decimal.NewFromFloat(rails.Crypto),
		}
	}

	if p.rewards[domain.PlanTier1] >= p.rewards[domain.PlanTier2] {
		return nil, fmt.Errorf("pricing: tier1 referral reward %d must be lower than tier2 reward %d",
			p.rewards[domain.PlanTier1], p.rewards[domain.PlanTier2])
	}

	return p, nil
}

// Quote prices plan on rail. While the welcome promotion is active card and balance
// prices are discounted and rounded down to whole units; crypto uses the flat promo
// price when it is lower.
func (p *Pricing) Quote(plan domain.Plan, rail domain.Rail, promoActive bool) (Quote, error) {
	rails, ok := p.prices[plan]
	if !ok {
		return Quote{}, fmt.Errorf("plan %q is not for sale", plan)
	}

	amount, ok := rails[rail]
	if !ok {
		return Quote{}, fmt.Errorf("rail %q is not supported", rail)
	}

	if promoActive {
		switch rail {
		case domain.RailCrypto:
			if p.promoCrypto.IsPositive() && p.promoCrypto.LessThan(amount) {
				amount = p.promoCrypto
			}
		default:
			amount = amount.Mul(p.promoFactor).Floor()
		}
	}

	return Quote{Amount: amount, Currency: p.currencies[rail]}, nil
}

// ReferralReward is the discount credited to the referrer of a buyer of plan.
func (p *Pricing) ReferralReward(plan domain.Plan) int64 {
	return p.rewards[plan]
}

// DestinationCard is the card buyers transfer to on the card rail.
func (p *Pricing) DestinationCard() string {
	return p.destinationCard
}
