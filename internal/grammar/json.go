package grammar

import (
	"encoding/json"
	"fmt"
)

// nodeJSON is the type-tagged wire form of a grammar node. One struct covers
// every kind; the decoder reads the fields the tag calls for.
type nodeJSON struct {
	Kind         string            `json:"kind"`
	Value        json.RawMessage   `json:"value,omitempty"` // string for literals, node for rules
	Pattern      *string           `json:"pattern,omitempty"`
	Children     []json.RawMessage `json:"children,omitempty"`
	Alternatives []json.RawMessage `json:"alternatives,omitempty"`
	Child        json.RawMessage   `json:"child,omitempty"`
	Min          int               `json:"min,omitempty"`
	Max          *int              `json:"max,omitempty"` // absent means unbounded
	Name         string            `json:"name,omitempty"`
	Capture      string            `json:"capture,omitempty"`
	ListAppend   bool              `json:"list_append,omitempty"`
	Stop         json.RawMessage   `json:"stop,omitempty"`
	StopCapture  string            `json:"stop_capture,omitempty"`
	Suffix       *string           `json:"suffix,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	MaxTokens    *int              `json:"max_tokens,omitempty"`
	Lazy         bool              `json:"lazy,omitempty"`
}

// EncodeNode renders a grammar tree in its JSON wire form. Rules are written
// in full at first encounter and as {"kind":"ref"} afterwards, which keeps
// cyclic rule graphs finite. Rule names must be unique within one tree.
func EncodeNode(root Node) ([]byte, error) {
	e := &nodeEncoder{emitted: map[*Rule]string{}, used: map[string]bool{}}
	return e.encode(root)
}

type nodeEncoder struct {
	emitted map[*Rule]string
	used    map[string]bool
}

func (e *nodeEncoder) encode(node Node) ([]byte, error) {
	if node == nil {
		return nil, fmt.Errorf("cannot encode a nil grammar node")
	}
	out := nodeJSON{Kind: Kind(node)}
	switch n := node.(type) {
	case *Literal:
		raw, err := json.Marshal(n.Value)
		if err != nil {
			return nil, err
		}
		out.Value = raw
	case *Regex:
		out.Pattern = n.Pattern
	case *Join:
		for _, child := range n.Children {
			raw, err := e.encode(child)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, raw)
		}
	case *Select:
		for _, alt := range n.Alternatives {
			raw, err := e.encode(alt)
			if err != nil {
				return nil, err
			}
			out.Alternatives = append(out.Alternatives, raw)
		}
	case *Repeat:
		raw, err := e.encode(n.Child)
		if err != nil {
			return nil, err
		}
		out.Child = raw
		out.Min = n.Min
		if n.Max != Unbounded {
			max := n.Max
			out.Max = &max
		}
	case *Rule:
		return e.encodeRule(n)
	case *RuleRef:
		if n.Target == nil {
			return nil, fmt.Errorf("cannot encode a rule reference without a target")
		}
		return e.encodeRule(n.Target)
	default:
		return nil, fmt.Errorf("cannot encode grammar node kind %q", Kind(node))
	}
	return json.Marshal(out)
}

func (e *nodeEncoder) encodeRule(rule *Rule) ([]byte, error) {
	if name, ok := e.emitted[rule]; ok {
		return json.Marshal(nodeJSON{Kind: "ref", Name: name})
	}
	if rule.Name == "" {
		return nil, fmt.Errorf("rules must be named to encode")
	}
	if e.used[rule.Name] {
		return nil, fmt.Errorf("duplicate rule name %q in grammar tree", rule.Name)
	}
	e.emitted[rule] = rule.Name
	e.used[rule.Name] = true

	out := nodeJSON{
		Kind:        "rule",
		Name:        rule.Name,
		Capture:     rule.Capture,
		ListAppend:  rule.ListAppend,
		StopCapture: rule.StopCapture,
		Temperature: rule.Temperature,
		MaxTokens:   rule.MaxTokens,
		Lazy:        rule.Lazy,
	}
	if rule.Value == nil {
		return nil, fmt.Errorf("rule %q has no value", rule.Name)
	}
	raw, err := e.encode(rule.Value)
	if err != nil {
		return nil, err
	}
	out.Value = raw
	if rule.Stop != nil {
		raw, err := e.encode(rule.Stop)
		if err != nil {
			return nil, err
		}
		out.Stop = raw
	}
	if rule.Suffix != nil {
		out.Suffix = &rule.Suffix.Value
	}
	return json.Marshal(out)
}

// DecodeNode parses the JSON wire form of a grammar tree. References resolve
// against rule names anywhere in the tree, including forward references.
func DecodeNode(data []byte) (Node, error) {
	d := &nodeDecoder{rules: map[string]*Rule{}}
	node, err := d.decode(data)
	if err != nil {
		return nil, err
	}
	for _, pending := range d.pending {
		target, ok := d.rules[pending.name]
		if !ok {
			return nil, fmt.Errorf("grammar references unknown rule %q", pending.name)
		}
		pending.ref.Target = target
	}
	return node, nil
}

type nodeDecoder struct {
	rules   map[string]*Rule
	pending []pendingRef
}

type pendingRef struct {
	ref  *RuleRef
	name string
}

func (d *nodeDecoder) decode(data []byte) (Node, error) {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid grammar node: %w", err)
	}
	switch raw.Kind {
	case "literal":
		var value string
		if len(raw.Value) > 0 {
			if err := json.Unmarshal(raw.Value, &value); err != nil {
				return nil, fmt.Errorf("literal value must be a string: %w", err)
			}
		}
		return &Literal{Value: value}, nil
	case "regex":
		return &Regex{Pattern: raw.Pattern}, nil
	case "join":
		children := make([]Node, 0, len(raw.Children))
		for _, childRaw := range raw.Children {
			child, err := d.decode(childRaw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &Join{Children: children}, nil
	case "select":
		alts := make([]Node, 0, len(raw.Alternatives))
		for _, altRaw := range raw.Alternatives {
			alt, err := d.decode(altRaw)
			if err != nil {
				return nil, err
			}
			alts = append(alts, alt)
		}
		return &Select{Alternatives: alts}, nil
	case "repeat":
		if len(raw.Child) == 0 {
			return nil, fmt.Errorf("repeat nodes need a child")
		}
		child, err := d.decode(raw.Child)
		if err != nil {
			return nil, err
		}
		max := Unbounded
		if raw.Max != nil {
			max = *raw.Max
		}
		if raw.Min < 0 {
			return nil, fmt.Errorf("repeat min must be >= 0, got %d", raw.Min)
		}
		if max != Unbounded && max < raw.Min {
			return nil, fmt.Errorf("repeat max %d is below min %d", max, raw.Min)
		}
		return &Repeat{Child: child, Min: raw.Min, Max: max}, nil
	case "rule":
		return d.decodeRule(raw)
	case "ref":
		if raw.Name == "" {
			return nil, fmt.Errorf("rule references need a name")
		}
		ref := &RuleRef{}
		d.pending = append(d.pending, pendingRef{ref: ref, name: raw.Name})
		return ref, nil
	case "":
		return nil, fmt.Errorf("grammar node is missing a kind")
	default:
		return nil, fmt.Errorf("unknown grammar node kind %q", raw.Kind)
	}
}

func (d *nodeDecoder) decodeRule(raw nodeJSON) (Node, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("rules need a name")
	}
	if _, exists := d.rules[raw.Name]; exists {
		return nil, fmt.Errorf("duplicate rule name %q in grammar", raw.Name)
	}
	rule := &Rule{
		Name:        raw.Name,
		Capture:     raw.Capture,
		ListAppend:  raw.ListAppend,
		StopCapture: raw.StopCapture,
		Temperature: raw.Temperature,
		MaxTokens:   raw.MaxTokens,
		Lazy:        raw.Lazy,
	}
	// Register before decoding the body so self references resolve.
	d.rules[raw.Name] = rule

	if len(raw.Value) == 0 {
		return nil, fmt.Errorf("rule %q needs a value", raw.Name)
	}
	value, err := d.decode(raw.Value)
	if err != nil {
		return nil, err
	}
	rule.Value = value

	if len(raw.Stop) > 0 {
		stop, err := d.decode(raw.Stop)
		if err != nil {
			return nil, err
		}
		switch stop.(type) {
		case *Literal, *Regex:
			rule.Stop = stop
		default:
			return nil, fmt.Errorf("rule %q stop must be a literal or regex, got %s", raw.Name, Kind(stop))
		}
	}
	if raw.Suffix != nil {
		rule.Suffix = &Literal{Value: *raw.Suffix}
	}
	return rule, nil
}
