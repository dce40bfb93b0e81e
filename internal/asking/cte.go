package asking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lucamorandi/genbi/internal/conversation"
)

// ConstructCTESQL assembles an executable statement from ordered breakdown
// steps. With a step index, only steps[0..stepIndex] are emitted. A single
// emitted step yields the bare SQL annotated with its summary; multiple
// steps yield one WITH clause where every step but the final two is a
// comma-terminated CTE, the second-to-last is the final CTE, and the last
// step is the un-wrapped trailing SQL.
func ConstructCTESQL(steps []conversation.BreakdownStep, stepIndex *int) (string, error) {
	if len(steps) == 0 {
		return "", errors.New("breakdown has no steps")
	}
	count := len(steps)
	if stepIndex != nil {
		if *stepIndex < 0 || *stepIndex >= len(steps) {
			return "", fmt.Errorf("step index %d out of range [0, %d)", *stepIndex, len(steps))
		}
		count = *stepIndex + 1
	}
	emitted := steps[:count]

	if count == 1 {
		return fmt.Sprintf("-- %s\n%s", emitted[0].Summary, emitted[0].SQL), nil
	}

	var b strings.Builder
	b.WriteString("WITH ")
	for i, step := range emitted {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("-- ")
		b.WriteString(step.Summary)
		b.WriteString("\n")
		switch {
		case i == count-1:
			b.WriteString(step.SQL)
		case i == count-2:
			fmt.Fprintf(&b, "%s AS (%s)", step.CTEName, step.SQL)
		default:
			fmt.Fprintf(&b, "%s AS (%s),", step.CTEName, step.SQL)
		}
	}
	return b.String(), nil
}
