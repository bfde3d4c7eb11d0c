package regime

// Label represents the discrete market regime classification
type Label string

const (
	TrendingUp   Label = "TRENDING_UP"
	TrendingDown Label = "TRENDING_DOWN"
	Flat         Label = "FLAT"
	Unstable     Label = "UNSTABLE"
	Unknown      Label = "UNKNOWN"
)

// AllLabels returns every label in a fixed order, Unknown last
func AllLabels() []Label {
	return []Label{TrendingUp, TrendingDown, Flat, Unstable, Unknown}
}

// ParseLabel maps a string to a Label, falling back to Unknown
// for anything unrecognized
func ParseLabel(s string) Label {
	switch Label(s) {
	case TrendingUp, TrendingDown, Flat, Unstable:
		return Label(s)
	default:
		return Unknown
	}
}

// Valid reports whether l is one of the known labels
func (l Label) Valid() bool {
	switch l {
	case TrendingUp, TrendingDown, Flat, Unstable, Unknown:
		return true
	}
	return false
}

// Tradeable reports whether downstream strategy logic should act on
// this label. Unstable and Unknown are excluded.
func (l Label) Tradeable() bool {
	switch l {
	case TrendingUp, TrendingDown, Flat:
		return true
	}
	return false
}
