package witness

// Theme holds colors for witness rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	EdgeTaken       string // heuristic branch target
	EdgeFallthrough string // not-taken path of a conditional
	EdgeDirect      string // unconditional flow

	TermFill  string // blocks ending in a return or an unresolved branch
	MarkColor string // instructions named by match evidence
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeTaken:       "#0B3D91", // NASA blue
	EdgeFallthrough: "#FC3D21", // NASA red
	EdgeDirect:      "#424242",

	TermFill:  "#ECEFF1",
	MarkColor: "#E65100",
}
