package solver

import (
	"context"
	"math"
)

const integralityEps = 1e-6

// branchAndBound drives integer feasibility on top of twoPhaseSimplex.
// Everything here works in minimize space; Model.Solve negates the
// objective before constructing one of these when the caller asked to
// maximize.
type branchAndBound struct {
	numVars   int
	kinds     []VarKind
	rows      []lpRow
	objective []float64
	objOffset float64
	maximize  bool
}

type bbResult struct {
	status    Status
	values    []float64
	objective float64
}

type bbNode struct {
	lb []float64
	ub []float64
}

func (b *branchAndBound) run(ctx context.Context, initLB, initUB []float64) bbResult {
	best := bbResult{status: StatusInfeasible}
	bestObj := math.Inf(1)

	stack := []bbNode{{lb: initLB, ub: initUB}}
	const maxNodes = 200000

	for len(stack) > 0 && len(stack) < maxNodes {
		select {
		case <-ctx.Done():
			if best.status == StatusOptimal {
				return best
			}
			return bbResult{status: StatusTimeout}
		default:
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rows := make([]lpRow, 0, len(b.rows)+2*b.numVars)
		rows = append(rows, b.rows...)
		rows = append(rows, boundRows(node.lb, node.ub, b.numVars)...)

		res := twoPhaseSimplex(ctx, b.numVars, rows, b.objective)
		if res.status == StatusTimeout {
			if best.status == StatusOptimal {
				return best
			}
			return bbResult{status: StatusTimeout}
		}
		if res.status != StatusOptimal {
			continue
		}
		if best.status == StatusOptimal && res.objective >= bestObj-1e-9 {
			continue
		}

		branchVar, branchVal, integral := firstFractional(b.kinds, res.values)
		if integral {
			bestObj = res.objective
			best = bbResult{status: StatusOptimal, values: append([]float64{}, res.values...), objective: res.objective}
			continue
		}

		floorVal := math.Floor(branchVal)
		ceilVal := math.Ceil(branchVal)

		if floorVal >= node.lb[branchVar]-1e-9 {
			leftUB := append([]float64{}, node.ub...)
			leftUB[branchVar] = floorVal
			stack = append(stack, bbNode{lb: node.lb, ub: leftUB})
		}
		if ceilVal <= node.ub[branchVar]+1e-9 {
			rightLB := append([]float64{}, node.lb...)
			rightLB[branchVar] = ceilVal
			stack = append(stack, bbNode{lb: rightLB, ub: node.ub})
		}
	}

	return best
}

func boundRows(lb, ub []float64, numVars int) []lpRow {
	var rows []lpRow
	for i := 0; i < numVars; i++ {
		if !math.IsInf(ub[i], 1) {
			coeffs := make([]float64, numVars)
			coeffs[i] = 1
			rows = append(rows, lpRow{coeffs: coeffs, op: LE, rhs: ub[i]})
		}
		if lb[i] > 0 {
			coeffs := make([]float64, numVars)
			coeffs[i] = 1
			rows = append(rows, lpRow{coeffs: coeffs, op: GE, rhs: lb[i]})
		}
	}
	return rows
}

// firstFractional returns the lowest-indexed non-continuous variable whose
// relaxed value is not within integralityEps of an integer.
func firstFractional(kinds []VarKind, values []float64) (idx int, val float64, integral bool) {
	for i, k := range kinds {
		if k == Continuous {
			continue
		}
		v := values[i]
		frac := v - math.Floor(v)
		if frac > integralityEps && frac < 1-integralityEps {
			return i, v, false
		}
	}
	return -1, 0, true
}
