package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"brain/internal/logging"
	"brain/internal/types"
)

// =============================================================================
// GRAPH OPERATIONS (Mangle Datalog)
// =============================================================================
//
// ExecuteOperation's opaque dialect is Mangle Datalog. The brain's graph is
// rendered as base facts, the caller's program is appended, and the rows of
// every derived predicate come back as JSON.
//
// Base facts:
//   node(Uuid, Name, Label, Polarity).    one fact per label
//   edge(Uuid, Name, FlowKey, Tail, Tip, Deprecated).

// ExecuteOperation evaluates a Datalog program over a snapshot of the
// brain's graph. The result maps each derived predicate to its rows.
func (g *GraphDB) ExecuteOperation(ctx context.Context, brain, rawQuery string) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ExecuteOperation")
	defer timer.StopWithThreshold(2 * time.Second)

	program, err := g.renderFacts(ctx, brain)
	if err != nil {
		return "", err
	}
	program.WriteString("\n")
	program.WriteString(rawQuery)

	unit, err := parse.Unit(strings.NewReader(program.String()))
	if err != nil {
		return "", fmt.Errorf("failed to parse operation: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return "", fmt.Errorf("failed to analyze operation: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := mengine.EvalProgramWithStats(programInfo, store); err != nil {
		return "", fmt.Errorf("failed to evaluate operation: %w", err)
	}

	// Every predicate the caller's rules derive is part of the answer;
	// the base facts are not echoed back.
	derived := make(map[ast.PredicateSym]bool)
	for _, clause := range programInfo.Rules {
		sym := clause.Head.Predicate
		if sym.Symbol != "node" && sym.Symbol != "edge" {
			derived[sym] = true
		}
	}

	results := make(map[string][][]interface{})
	for sym := range derived {
		var rows [][]interface{}
		err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
			row := make([]interface{}, len(atom.Args))
			for i, arg := range atom.Args {
				row[i] = baseTermToInterface(arg)
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to read derived facts for %s: %w", sym.Symbol, err)
		}
		if rows == nil {
			rows = [][]interface{}{}
		}
		results[sym.Symbol] = rows
	}

	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to encode operation result: %w", err)
	}
	return string(out), nil
}

// renderFacts writes the brain's nodes and edges as Datalog clauses.
func (g *GraphDB) renderFacts(ctx context.Context, brain string) (*strings.Builder, error) {
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	var program strings.Builder

	rows, err := db.QueryContext(ctx, "SELECT uuid, name, labels, polarity FROM nodes")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var uuid, name, labelsJSON string
		var polarity string
		if err := rows.Scan(&uuid, &name, &labelsJSON, &polarity); err != nil {
			continue
		}
		var labels []string
		json.Unmarshal([]byte(labelsJSON), &labels)
		if len(labels) == 0 {
			labels = []string{""}
		}
		for _, label := range labels {
			fact := types.Fact{
				Predicate: "node",
				Args:      []interface{}{uuid, name, label, polarity},
			}
			program.WriteString(fact.String())
			program.WriteString("\n")
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, "SELECT uuid, name, flow_key, tail_uuid, tip_uuid, deprecated FROM edges")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var uuid, name, tail, tip string
		var flowKey string
		var deprecated int
		if err := rows.Scan(&uuid, &name, &flowKey, &tail, &tip, &deprecated); err != nil {
			continue
		}
		fact := types.Fact{
			Predicate: "edge",
			Args:      []interface{}{uuid, name, flowKey, tail, tip, deprecated != 0},
		}
		program.WriteString(fact.String())
		program.WriteString("\n")
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &program, nil
}

func baseTermToInterface(term ast.BaseTerm) interface{} {
	switch v := term.(type) {
	case ast.Constant:
		return constantToInterface(v)
	case ast.Variable:
		return v.Symbol
	default:
		return fmt.Sprintf("%v", term)
	}
}

func constantToInterface(constant ast.Constant) interface{} {
	switch constant.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return constant.Symbol
	case ast.NumberType:
		return constant.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(constant.NumValue))
	default:
		return constant.String()
	}
}
