package sizing

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func testSizer() *Sizer {
	return NewSizer(Config{
		BasePositionPct:     10.0,
		MinPositionValue:    500.0,
		MaxConcentrationPct: 20.0,
		MinCompositeScore:   40.0,
		CashReservePct:      5.0,
	}, zerolog.Nop())
}

func neutral(string) float64 { return 1.0 }

func testContext() PortfolioContext {
	return PortfolioContext{
		DeployableCash: 10000,
		PortfolioValue: 50000,
		AvailableSlots: 5,
		Exposure:       map[string]float64{},
	}
}

func TestAllocateBasic(t *testing.T) {
	s := testSizer()
	out := s.Allocate([]Opportunity{
		{Symbol: "AAPL", Score: 60, Price: 50},
	}, testContext(), 1.0, neutral)

	if len(out) != 1 {
		t.Fatalf("allocations = %d, want 1", len(out))
	}
	a := out[0]
	// 10% of 10k deployable at neutral multipliers.
	if a.Quantity != 20 || a.Cost != 1000 {
		t.Fatalf("qty = %v cost = %v, want 20 shares for $1000", a.Quantity, a.Cost)
	}
	if a.EffectiveMultiplier != 1.0 {
		t.Fatalf("effective = %v, want 1.0", a.EffectiveMultiplier)
	}
}

func TestAllocateScoreGate(t *testing.T) {
	s := testSizer()
	out := s.Allocate([]Opportunity{
		{Symbol: "WEAK", Score: 39.9, Price: 50},
		{Symbol: "OK", Score: 40, Price: 50},
	}, testContext(), 1.0, neutral)

	if len(out) != 1 || out[0].Symbol != "OK" {
		t.Fatalf("allocations = %+v, want only the candidate at the score floor", out)
	}
}

func TestAllocateSkipsFrozenTickers(t *testing.T) {
	s := testSizer()
	frozen := func(symbol string) float64 {
		if symbol == "BAD" {
			return 0
		}
		return 1.0
	}
	out := s.Allocate([]Opportunity{
		{Symbol: "BAD", Score: 80, Price: 50},
		{Symbol: "GOOD", Score: 60, Price: 50},
	}, testContext(), 1.0, frozen)

	if len(out) != 1 || out[0].Symbol != "GOOD" {
		t.Fatalf("allocations = %+v, frozen ticker must be skipped", out)
	}
}

func TestAllocateConcentrationCap(t *testing.T) {
	s := testSizer()

	// Cap is 20% of 50k = 10k per ticker. With 9.5k already held the
	// allocation is clipped to the $500 headroom.
	pctx := testContext()
	pctx.Exposure["AAPL"] = 9500
	out := s.Allocate([]Opportunity{{Symbol: "AAPL", Score: 60, Price: 50, IsAddon: true}}, pctx, 1.0, neutral)
	if len(out) != 1 || out[0].Cost != 500 {
		t.Fatalf("allocations = %+v, want $500 clipped to headroom", out)
	}

	// At the cap there is no headroom at all.
	pctx = testContext()
	pctx.Exposure["AAPL"] = 10000
	out = s.Allocate([]Opportunity{{Symbol: "AAPL", Score: 60, Price: 50, IsAddon: true}}, pctx, 1.0, neutral)
	if len(out) != 0 {
		t.Fatalf("allocations = %+v, want none at the concentration cap", out)
	}

	// Headroom below the minimum position value is not worth an order.
	pctx = testContext()
	pctx.Exposure["AAPL"] = 9600
	out = s.Allocate([]Opportunity{{Symbol: "AAPL", Score: 60, Price: 50, IsAddon: true}}, pctx, 1.0, neutral)
	if len(out) != 0 {
		t.Fatalf("allocations = %+v, $400 headroom is under the $500 minimum", out)
	}
}

func TestAllocateNeverExceedsDeployableCash(t *testing.T) {
	s := testSizer()
	// Each candidate asks for 10% * 3.0 = $3000; the 5% reserve leaves
	// $9500, so the fourth is clipped and the fifth gets nothing.
	opps := make([]Opportunity, 5)
	for i, sym := range []string{"A", "B", "C", "D", "E"} {
		opps[i] = Opportunity{Symbol: sym, Score: 60, Price: 50, VolatilityMult: 3.0}
	}

	out := s.Allocate(opps, testContext(), 1.0, neutral)
	if len(out) != 4 {
		t.Fatalf("allocations = %d, want 4", len(out))
	}
	var total float64
	for _, a := range out {
		total += a.Cost
	}
	if total > 9500.01 {
		t.Fatalf("total cost %v exceeds deployable cash after reserve", total)
	}
	if out[3].Cost != 500 {
		t.Fatalf("last allocation cost = %v, want clipped to the remaining $500", out[3].Cost)
	}
}

func TestAllocateRespectsSlots(t *testing.T) {
	s := testSizer()
	pctx := testContext()
	pctx.AvailableSlots = 2
	out := s.Allocate([]Opportunity{
		{Symbol: "A", Score: 60, Price: 50},
		{Symbol: "B", Score: 60, Price: 50},
		{Symbol: "C", Score: 60, Price: 50},
	}, pctx, 1.0, neutral)

	if len(out) != 2 {
		t.Fatalf("allocations = %d, want 2 with 2 open slots", len(out))
	}
}

func TestAllocateMultipliersCompose(t *testing.T) {
	s := testSizer()
	rot := func(string) float64 { return 1.5 }
	out := s.Allocate([]Opportunity{
		{Symbol: "AAPL", Score: 60, Price: 45, VolatilityMult: 0.8, HealthMult: 1.25},
	}, testContext(), 0.6, rot)

	if len(out) != 1 {
		t.Fatalf("allocations = %d, want 1", len(out))
	}
	a := out[0]
	// 0.6 * 1.5 * 0.8 * 1.25 = 0.9.
	if math.Abs(a.EffectiveMultiplier-0.9) > 1e-9 {
		t.Fatalf("effective = %v, want 0.9", a.EffectiveMultiplier)
	}
	if a.Quantity != 20 {
		t.Fatalf("qty = %v, want floor($900/45) = 20", a.Quantity)
	}
}

func TestAllocateUnsetMultipliersAreNeutral(t *testing.T) {
	s := testSizer()
	out := s.Allocate([]Opportunity{
		{Symbol: "AAPL", Score: 60, Price: 50}, // Volatility and health left zero
	}, testContext(), 1.0, neutral)

	if len(out) != 1 || out[0].VolatilityMultiplier != 1.0 || out[0].HealthMultiplier != 1.0 {
		t.Fatalf("allocations = %+v, zero multipliers must read as neutral", out)
	}
}
