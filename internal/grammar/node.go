package grammar

// Unbounded marks a Repeat with no upper bound.
const Unbounded = -1

// Node is one node of a grammar tree. Trees combine literals, regexes,
// sequences, alternations, repeats, and named rules; rule graphs may be
// cyclic through RuleRef.
type Node interface {
	isNode()
}

// Literal matches an exact string.
type Literal struct {
	Value string
}

// Regex matches a regular expression fragment. A nil Pattern is the
// unconstrained sentinel: any output is accepted.
type Regex struct {
	Pattern *string
}

// Join matches its children in order.
type Join struct {
	Children []Node
}

// Select matches exactly one of its alternatives.
type Select struct {
	Alternatives []Node
}

// Repeat matches Child between Min and Max times. Max may be Unbounded.
type Repeat struct {
	Child Node
	Min   int
	Max   int
}

// Rule names a subtree and carries generation behavior: captures, stop
// conditions, and per-rule sampling overrides.
type Rule struct {
	Name        string
	Value       Node
	Capture     string
	ListAppend  bool
	Stop        Node // *Literal or *Regex
	StopCapture string
	Suffix      *Literal
	Temperature *float64
	MaxTokens   *int
	Lazy        bool
}

// RuleRef points at a Rule defined elsewhere in the tree, allowing recursion.
type RuleRef struct {
	Target *Rule
}

func (*Literal) isNode() {}
func (*Regex) isNode()   {}
func (*Join) isNode()    {}
func (*Select) isNode()  {}
func (*Repeat) isNode()  {}
func (*Rule) isNode()    {}
func (*RuleRef) isNode() {}

// NewLiteral builds a literal node.
func NewLiteral(value string) *Literal {
	return &Literal{Value: value}
}

// NewRegex builds a regex node from a pattern.
func NewRegex(pattern string) *Regex {
	return &Regex{Pattern: &pattern}
}

// Unconstrained returns the sentinel regex node that accepts any output.
func Unconstrained() *Regex {
	return &Regex{}
}

// NewJoin builds a sequence node.
func NewJoin(children ...Node) *Join {
	return &Join{Children: children}
}

// NewSelect builds an alternation node.
func NewSelect(alternatives ...Node) *Select {
	return &Select{Alternatives: alternatives}
}

// NewRepeat builds a repetition node. Pass Unbounded for max to leave the
// repetition open-ended.
func NewRepeat(child Node, min, max int) *Repeat {
	return &Repeat{Child: child, Min: min, Max: max}
}

// Kind returns the wire name of a node's type.
func Kind(node Node) string {
	switch node.(type) {
	case *Literal:
		return "literal"
	case *Regex:
		return "regex"
	case *Join:
		return "join"
	case *Select:
		return "select"
	case *Repeat:
		return "repeat"
	case *Rule:
		return "rule"
	case *RuleRef:
		return "ref"
	default:
		return "unknown"
	}
}

// isNull reports whether a node can only ever produce the empty string.
// Rules and refs are treated as non-null without recursing so cyclic graphs
// stay safe to inspect.
func isNull(node Node) bool {
	switch n := node.(type) {
	case *Literal:
		return n.Value == ""
	case *Join:
		for _, child := range n.Children {
			if !isNull(child) {
				return false
			}
		}
		return true
	case *Select:
		if len(n.Alternatives) == 0 {
			return false
		}
		for _, alt := range n.Alternatives {
			if !isNull(alt) {
				return false
			}
		}
		return true
	case *Repeat:
		return n.Max == 0 || isNull(n.Child)
	default:
		return false
	}
}
