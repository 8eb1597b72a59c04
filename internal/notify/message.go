package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

// FormatOpportunity renders the pt-BR WhatsApp text for an accepted opportunity.
func FormatOpportunity(alert models.Alert, opp models.Opportunity) string {
	var sb strings.Builder
	sb.WriteString("Nova oportunidade encontrada!\n")
	fmt.Fprintf(&sb, "✈️ %s → %s: %s milhas + %s (total %s) via %s",
		alert.Origin,
		alert.Destination,
		groupThousands(strconv.FormatInt(opp.Miles, 10)),
		FormatBRL(opp.TaxesBRL),
		FormatBRL(opp.TotalBRL),
		opp.Provider)

	if alert.DateFrom != nil || alert.DateTo != nil {
		sb.WriteString("\n📅 ")
		sb.WriteString(formatWindow(alert.DateFrom, alert.DateTo))
		if alert.FlexDays > 0 {
			fmt.Fprintf(&sb, " (±%d dias)", alert.FlexDays)
		}
	}
	return sb.String()
}

// FormatBRL formats an amount as Brazilian reais, e.g. "R$ 2.900,00".
func FormatBRL(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("%sR$ %s,%s", sign, groupThousands(intPart), frac)
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var sb strings.Builder
	head := len(digits) % 3
	if head > 0 {
		sb.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

func formatWindow(from, to *models.Date) string {
	const layout = "02/01/2006"
	switch {
	case from != nil && to != nil:
		return from.Format(layout) + " a " + to.Format(layout)
	case from != nil:
		return "a partir de " + from.Format(layout)
	default:
		return "até " + to.Format(layout)
	}
}
