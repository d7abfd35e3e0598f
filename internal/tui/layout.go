package tui

// Layout holds the heights available to each section of the view.
type Layout struct {
	// TiersHeight is the number of lines for the tier list.
	TiersHeight int
	// LogHeight is the number of lines for the activity log.
	LogHeight int
}

const (
	headerHeight = 2
	footerHeight = 1
	minLogHeight = 3
)

// CalculateLayout splits the terminal height between tiers and log.
// Tiers get two thirds of the content area; the log keeps at least
// minLogHeight lines.
func CalculateLayout(height int) Layout {
	content := height - headerHeight - footerHeight - 2
	if content < minLogHeight*2 {
		return Layout{TiersHeight: minLogHeight, LogHeight: minLogHeight}
	}
	tiers := content * 2 / 3
	log := content - tiers
	if log < minLogHeight {
		log = minLogHeight
		tiers = content - log
	}
	return Layout{TiersHeight: tiers, LogHeight: log}
}
