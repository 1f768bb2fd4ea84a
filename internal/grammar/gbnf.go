package grammar

// GBNF expands bounded repeats into copy-count alternations; ranges wider
// than this explode and are refused instead.
const maxGBNFRepeatSpan = 16

// SerializeGBNF renders a grammar tree in the conservative GBNF subset some
// providers accept as a grammar response format. Regex terminals are compiled
// into GBNF expressions rather than passed through.
func SerializeGBNF(root Node) (string, error) {
	s := &dialectSerializer{
		dialect:    "gbnf",
		rootName:   "root",
		defSep:     " ::= ",
		repeatSpan: maxGBNFRepeatSpan,
		names:      map[*Rule]string{},
		claimed:    map[string]bool{},
	}
	return s.serialize(root)
}
