package dsl

import (
	"fmt"

	"coltable-go/types"
)

// Extraction lists what a predicate refers to outside its literals.
type Extraction struct {
	Columns []string
	Sets    []string
}

func appendOnce(list []string, name string) []string {
	for _, s := range list {
		if types.EqualFold(s, name) {
			return list
		}
	}
	return append(list, name)
}

// ExtractColumns walks text with the same grammar as Compile and returns
// the column names and foreign key sets it mentions, first spelling wins.
// Unquoted comparison operands that are not literals count as columns.
func ExtractColumns(text string) (Extraction, error) {
	var out Extraction
	if IsAll(text) {
		return out, nil
	}
	tokens, err := Tokenize(text)
	if err != nil {
		return Extraction{}, err
	}
	for i := 0; i < len(tokens); {
		if i > 0 {
			if _, ok := types.ParseConnector(tokens[i].Raw); !ok {
				return Extraction{}, types.ErrInvalidPredicate(fmt.Sprintf("expected AND or OR at %d, got %q", tokens[i].Pos, tokens[i].Raw))
			}
			i++
		}
		if i+3 > len(tokens) {
			at := len(text)
			if i < len(tokens) {
				at = tokens[i].Pos
			}
			return Extraction{}, ErrIncompleteClause(at)
		}
		col, opTok, arg := tokens[i], tokens[i+1], tokens[i+2]
		i += 3
		if col.Quoted() {
			return Extraction{}, types.ErrInvalidPredicate(fmt.Sprintf("column name expected at %d, got literal %s", col.Pos, col.Raw))
		}
		out.Columns = appendOnce(out.Columns, col.Raw)

		if kw, ok := types.ParseKeyword(opTok.Raw); ok {
			switch {
			case kw == types.Distinct:
				if arg.Raw != "*" && !arg.Quoted() {
					out.Columns = appendOnce(out.Columns, arg.Raw)
				}
			case kw.ForeignSet():
				out.Sets = appendOnce(out.Sets, arg.Raw)
			}
			continue
		}
		if _, ok := types.ParseCmpOp(opTok.Raw); !ok {
			return Extraction{}, ErrUnknownOperator(opTok)
		}
		if _, ok := literal(arg); !ok {
			out.Columns = appendOnce(out.Columns, arg.Raw)
		}
	}
	return out, nil
}
