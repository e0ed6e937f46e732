package solver

import (
	"context"
	"fmt"
)

type varInfo struct {
	name string
	kind VarKind
	lb   float64
	ub   float64
}

type namedConstraint struct {
	name string
	expr Expr
	op   Op
	rhs  float64
}

// Model is a mutable builder for a mixed-integer linear program. Build it up
// with NewBinaryVar/NewIntVar/NewContinuousVar and AddConstraint, set an
// objective with Maximize or Minimize, then call Solve.
type Model struct {
	name        string
	vars        []varInfo
	constraints []namedConstraint
	objective   Expr
	maximize    bool
	hasObjective bool
}

// NewModel creates an empty model. name is used only for logging/debugging.
func NewModel(name string) *Model {
	return &Model{name: name}
}

// Name returns the model's name.
func (m *Model) Name() string { return m.name }

// NewBinaryVar registers a variable constrained to {0, 1}.
func (m *Model) NewBinaryVar(name string) Var {
	return m.newVar(name, Binary, 0, 1)
}

// NewIntVar registers an integer variable with the given bounds.
func (m *Model) NewIntVar(name string, lb, ub float64) Var {
	return m.newVar(name, Integer, lb, ub)
}

// NewContinuousVar registers a continuous variable with the given bounds.
// ub may be math.Inf(1) for an unbounded-above variable.
func (m *Model) NewContinuousVar(name string, lb, ub float64) Var {
	return m.newVar(name, Continuous, lb, ub)
}

func (m *Model) newVar(name string, kind VarKind, lb, ub float64) Var {
	m.vars = append(m.vars, varInfo{name: name, kind: kind, lb: lb, ub: ub})
	return Var(len(m.vars) - 1)
}

// NumVars returns the number of registered variables.
func (m *Model) NumVars() int { return len(m.vars) }

// VarName returns the registration name of v.
func (m *Model) VarName(v Var) string {
	if int(v) < 0 || int(v) >= len(m.vars) {
		return fmt.Sprintf("var#%d", v)
	}
	return m.vars[v].name
}

// AddConstraint adds a named linear constraint: expr op rhs. name must be
// unique among the model's live constraints; it is how a caller later
// replaces the constraint via RemoveConstraint.
func (m *Model) AddConstraint(name string, expr Expr, op Op, rhs float64) {
	m.constraints = append(m.constraints, namedConstraint{name: name, expr: expr, op: op, rhs: rhs})
}

// RemoveConstraint deletes the constraint registered under name, if any. It
// reports whether a constraint was found and removed. Callers that need to
// replace a constraint only when its content actually changes (rather than
// on every call) should compare before calling RemoveConstraint+AddConstraint.
func (m *Model) RemoveConstraint(name string) bool {
	for i, c := range m.constraints {
		if c.name == name {
			m.constraints = append(m.constraints[:i], m.constraints[i+1:]...)
			return true
		}
	}
	return false
}

// HasConstraint reports whether a constraint with the given name is live.
func (m *Model) HasConstraint(name string) bool {
	for _, c := range m.constraints {
		if c.name == name {
			return true
		}
	}
	return false
}

// Maximize sets the objective to maximize expr.
func (m *Model) Maximize(expr Expr) {
	m.objective = expr
	m.maximize = true
	m.hasObjective = true
}

// Minimize sets the objective to minimize expr.
func (m *Model) Minimize(expr Expr) {
	m.objective = expr
	m.maximize = false
	m.hasObjective = true
}

// Solve runs branch-and-bound over a two-phase simplex relaxation and
// returns the best integer-feasible solution found. ctx's deadline, if any,
// bounds the search; a search that times out before finding any feasible
// solution returns StatusTimeout.
func (m *Model) Solve(ctx context.Context) (Solution, error) {
	if !m.hasObjective {
		return Solution{}, ErrNoObjective
	}

	n := len(m.vars)
	lb := make([]float64, n)
	ub := make([]float64, n)
	kinds := make([]VarKind, n)
	for i, vi := range m.vars {
		lb[i] = vi.lb
		ub[i] = vi.ub
		kinds[i] = vi.kind
	}

	rows := make([]lpRow, 0, len(m.constraints))
	for _, c := range m.constraints {
		rows = append(rows, lpRow{coeffs: denseRow(c.expr, n), op: c.op, rhs: c.rhs - c.expr.offset})
	}

	objCoeffs := denseRow(m.objective, n)
	if m.maximize {
		for i := range objCoeffs {
			objCoeffs[i] = -objCoeffs[i]
		}
	}

	bb := &branchAndBound{
		numVars:   n,
		kinds:     kinds,
		rows:      rows,
		objective: objCoeffs,
		objOffset: m.objective.offset,
		maximize:  m.maximize,
	}

	result := bb.run(ctx, lb, ub)

	sol := Solution{Status: result.status}
	if result.status == StatusOptimal {
		sol.values = make(map[Var]float64, n)
		for i := 0; i < n; i++ {
			sol.values[Var(i)] = result.values[i]
		}
		if m.maximize {
			sol.Objective = -result.objective + m.objective.offset
		} else {
			sol.Objective = result.objective + m.objective.offset
		}
	}
	return sol, nil
}

func denseRow(e Expr, n int) []float64 {
	row := make([]float64, n)
	for v, c := range e.coeffs {
		if int(v) >= 0 && int(v) < n {
			row[int(v)] = c
		}
	}
	return row
}
