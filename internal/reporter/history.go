package reporter

import (
	"sort"
	"strings"

	"golang-rent-ledger-service/internal/models"

	"github.com/shopspring/decimal"
)

// HistorySummary is the payment history grouped by ledger month.
type HistorySummary struct {
	Account  string          `json:"account,omitempty"`
	Payments int             `json:"payments"`
	Total    decimal.Decimal `json:"total"`
	Months   []MonthTotal    `json:"months"`
}

// MonthTotal is the count and sum of payments posted to one month.
type MonthTotal struct {
	Month    string          `json:"month"`
	Payments int             `json:"payments"`
	Total    decimal.Decimal `json:"total"`
}

// SummarizeHistory groups entries by the month they were posted to, oldest
// first. A non-empty account keeps only that tenant's payments. Entries
// without a month fall back to the month of their payment date.
func SummarizeHistory(entries []models.PaymentHistoryEntry, account string) *HistorySummary {
	account = strings.ToUpper(strings.TrimSpace(account))
	summary := &HistorySummary{Account: account, Total: decimal.Zero, Months: []MonthTotal{}}

	index := make(map[string]int)
	for _, e := range entries {
		if account != "" && !strings.EqualFold(e.AccountCode, account) {
			continue
		}
		month := e.Month
		if month == "" && !e.DatePaid.IsZero() {
			month = models.MonthKeyOf(e.DatePaid).String()
		}
		i, ok := index[month]
		if !ok {
			i = len(summary.Months)
			index[month] = i
			summary.Months = append(summary.Months, MonthTotal{Month: month, Total: decimal.Zero})
		}
		summary.Months[i].Payments++
		summary.Months[i].Total = summary.Months[i].Total.Add(e.AmountPaid)
		summary.Payments++
		summary.Total = summary.Total.Add(e.AmountPaid)
	}

	sort.SliceStable(summary.Months, func(i, j int) bool {
		return summary.Months[i].Month < summary.Months[j].Month
	})
	return summary
}
