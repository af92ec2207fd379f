package types

import "strings"

// CmpOp is a comparison operator usable between a column and a literal or
// between two columns.
type CmpOp int

const (
	EQ CmpOp = iota + 1
	NE
	LT
	LE
	GT
	GE
)

var cmpOpNames = map[CmpOp]string{
	EQ: "EQ",
	NE: "NE",
	LT: "LT",
	LE: "LE",
	GT: "GT",
	GE: "GE",
}

// symbols are what the engine receives
var cmpOpSymbols = map[CmpOp]string{
	EQ: "=",
	NE: "!=",
	LT: "<",
	LE: "<=",
	GT: ">",
	GE: ">=",
}

// aliases normalize to the canonical upper-case name before lookup
var cmpOpAliases = map[string]string{
	"=":  "EQ",
	"==": "EQ",
	"!=": "NE",
	"<>": "NE",
	"<":  "LT",
	"<=": "LE",
	">":  "GT",
	">=": "GE",
}

var cmpOpLookup = map[string]CmpOp{
	"EQ": EQ,
	"NE": NE,
	"LT": LT,
	"LE": LE,
	"GT": GT,
	"GE": GE,
}

func (o CmpOp) String() string {
	if n, ok := cmpOpNames[o]; ok {
		return n
	}
	return "INVALID"
}

// Symbol is the operator as it appears in backend commands.
func (o CmpOp) Symbol() string {
	return cmpOpSymbols[o]
}

// Ordering reports whether the operator bounds values (LT/LE/GT/GE) rather
// than testing equality.
func (o CmpOp) Ordering() bool {
	return o == LT || o == LE || o == GT || o == GE
}

// ParseCmpOp accepts symbols (=, ==, !=, <, <=, >, >=) and names
// (EQ, NE, LT, LE, GT, GE) in any case.
func ParseCmpOp(s string) (CmpOp, bool) {
	key := strings.TrimSpace(s)
	if alias, ok := cmpOpAliases[key]; ok {
		key = alias
	}
	op, ok := cmpOpLookup[strings.ToUpper(key)]
	return op, ok
}

// Connector joins two clauses.
type Connector int

const (
	And Connector = iota + 1
	Or
)

func (c Connector) String() string {
	switch c {
	case And:
		return "AND"
	case Or:
		return "OR"
	default:
		return "INVALID"
	}
}

func ParseConnector(s string) (Connector, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AND", "&&":
		return And, true
	case "OR", "||":
		return Or, true
	default:
		return 0, false
	}
}

// Keyword is a non-comparison clause operator of the predicate language.
type Keyword int

const (
	Distinct Keyword = iota + 1
	Like
	Between
	In
	NotIn
	KeyIn
	KeyNotIn
	Random
)

var keywordLookup = map[string]Keyword{
	"DISTINCT": Distinct,
	"LIKE":     Like,
	"BETWEEN":  Between,
	"IN":       In,
	"NOTIN":    NotIn,
	"KEYIN":    KeyIn,
	"KEYNOTIN": KeyNotIn,
	"RANDOM":   Random,
}

func (k Keyword) String() string {
	for name, kw := range keywordLookup {
		if kw == k {
			return name
		}
	}
	return "INVALID"
}

// ParseKeyword resolves a clause keyword case-insensitively.
func ParseKeyword(s string) (Keyword, bool) {
	kw, ok := keywordLookup[strings.ToUpper(strings.TrimSpace(s))]
	return kw, ok
}

// ForeignSet reports whether the keyword takes the name of a foreign key-set
// as its operand.
func (k Keyword) ForeignSet() bool {
	return k == In || k == NotIn || k == KeyIn || k == KeyNotIn
}
