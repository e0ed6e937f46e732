// Package execution assembles the path and amount optimizers' output into
// the ordered leg mapping an external dispatcher consumes. It performs no
// order placement itself: intra-exchange dispatch-in-parallel,
// cancel-on-stall, and sequential inter-exchange withdrawal are the
// dispatcher's responsibility, grounded on the source's "the core does not
// dictate execution semantics beyond producing this mapping" boundary.
package execution

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/xarbhq/xarb-core/internal/amountopt"
	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/graph"
	"github.com/xarbhq/xarb-core/internal/metrics"
	"github.com/xarbhq/xarb-core/internal/pathopt"
)

// PlanLeg is one dispatch-ready step: a market (or transfer route), its
// sized volume and price, and the direction the dispatcher should trade.
type PlanLeg struct {
	Pair      graph.Pair          `json:"pair"`
	Volume    float64             `json:"volume"`
	Price     float64             `json:"price"`
	Direction amountopt.Direction `json:"direction"`
}

// MarshalJSON renders Direction as its string form so a non-Go dispatcher
// can consume the plan without sharing this package's enum.
func (l PlanLeg) MarshalJSON() ([]byte, error) {
	type alias struct {
		Pair      graph.Pair `json:"pair"`
		Volume    float64    `json:"volume"`
		Price     float64    `json:"price"`
		Direction string     `json:"direction"`
	}
	return json.Marshal(alias{Pair: l.Pair, Volume: l.Volume, Price: l.Price, Direction: l.Direction.String()})
}

// Plan is the final, ordered execution mapping for one cycle.
type Plan struct {
	Legs       []PlanLeg `json:"legs"`
	ProfitRate float64   `json:"profit_rate"`
}

// BuildPlan assembles a Plan from a path optimizer result and the amount
// optimizer's sizing of it. Both must report success; a cycle with no
// workable amount plan has nothing to dispatch.
func BuildPlan(pathResult pathopt.Result, amountPlan amountopt.Plan) (Plan, error) {
	if !pathResult.HasOpportunity {
		return Plan{}, fmt.Errorf("execution: path optimizer reported no opportunity")
	}
	if !amountPlan.HasSolution {
		return Plan{}, fmt.Errorf("execution: amount optimizer reported no workable solution")
	}

	legs := make([]PlanLeg, len(amountPlan.Legs))
	for i, l := range amountPlan.Legs {
		legs[i] = PlanLeg{Pair: l.Pair, Volume: l.Volume, Price: l.Price, Direction: l.Direction}
	}
	return Plan{Legs: legs, ProfitRate: pathResult.ProfitRate}, nil
}

// MarshalRunLogEntry renders the plan's prose form for the append-only run
// log, grounded on the source's opp_and_solution_txt report format.
func (p Plan) MarshalRunLogEntry() string {
	var b strings.Builder
	fmt.Fprintf(&b, "profit_rate=%.6f legs=%d\n", p.ProfitRate, len(p.Legs))
	for i, l := range p.Legs {
		fmt.Fprintf(&b, "  [%d] %s %s volume=%.8f price=%.8f direction=%s\n",
			i, l.Pair.Exchange, l.Pair.Symbol, l.Volume, l.Price, l.Direction)
	}
	return b.String()
}

// Publisher hands a built Plan to an external dispatcher over NATS. It is
// a thin, optional boundary: a dispatcher that executes the plan is out of
// this module's scope, only the publish step lives here.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher connects to the configured NATS server. It returns a nil
// Publisher, nil error when publishing is disabled, so callers can treat a
// nil Publisher as a no-op.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("execution: connect to NATS: %w", err)
	}
	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

// Publish marshals the plan as JSON and publishes it to the configured
// subject. A nil Publisher makes Publish a no-op, matching NewPublisher's
// disabled-by-config contract.
func (p *Publisher) Publish(plan Plan) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("execution: marshal plan: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("execution: publish plan: %w", err)
	}
	metrics.NATSMessagesPublished.Inc()
	return nil
}

// Close releases the underlying NATS connection. A nil Publisher makes
// Close a no-op.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}
