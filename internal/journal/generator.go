package journal

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/odyssey-erp/loadgen/internal/shared"
)

const (
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
	digits       = "0123456789"

	isoDate      = "2006-01-02T15:04:05"
	isoTimestamp = "2006-01-02T15:04:05.000000"

	minAmount = 1.0
	maxAmount = 10000.0
)

// currencyPool is weighted towards EUR and USD.
var currencyPool = []currency.Unit{
	currency.EUR, currency.EUR, currency.EUR,
	currency.USD, currency.USD, currency.USD,
	currency.GBP, currency.CHF, currency.JPY,
}

// Generator produces balanced journals. A Generator is not safe for
// concurrent use; every worker owns its own instance.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator returns a generator backed by a PCG source. Workers pass their
// index as the stream so that concurrently seeded generators diverge.
func NewGenerator(seed, stream uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, stream)), now: time.Now}
}

// WithNow overrides the clock used for header dates.
func (g *Generator) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// ValidateRange checks the per-journal line bounds.
func ValidateRange(minLines, maxLines int) error {
	if minLines < 1 || maxLines < 1 {
		return fmt.Errorf("%w: journal: line bounds must be at least 1 (min=%d, max=%d)", shared.ErrConfiguration, minLines, maxLines)
	}
	if minLines > maxLines {
		return fmt.Errorf("%w: journal: min lines %d exceeds max lines %d", shared.ErrConfiguration, minLines, maxLines)
	}
	return nil
}

// Generate returns count journals, each with a line count drawn uniformly
// from [minLines, maxLines].
func (g *Generator) Generate(count, minLines, maxLines int) ([]Batch, error) {
	if err := ValidateRange(minLines, maxLines); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: journal: negative journal count %d", shared.ErrConfiguration, count)
	}
	batches := make([]Batch, 0, count)
	for i := 0; i < count; i++ {
		batches = append(batches, g.batch(minLines, maxLines))
	}
	return batches, nil
}

func (g *Generator) batch(minLines, maxLines int) Batch {
	now := g.now()
	posted := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// Day 0 of the next month is the last day of the posted month.
	periodEnd := time.Date(posted.Year(), posted.Month()+1, 0, 0, 0, 0, 0, posted.Location())

	header := Header{
		SourceCode:         g.randomString(upperLetters, 3, 3),
		ExternalReference:  g.randomString(upperLetters+digits, 20, 20),
		HeaderDescription:  g.randomString(lowerLetters, 10, 80),
		PeriodCode:         fmt.Sprintf("%04d%02d", posted.Year(), int(posted.Month())),
		PeriodDate:         periodEnd.Format(isoDate),
		CurrencyCode:       currencyPool[g.rng.IntN(len(currencyPool))].String(),
		CategoryCode:       g.randomString(upperLetters, 3, 3),
		PostedDate:         posted.Format(isoDate),
		CreatedDate:        posted.Format(isoDate),
		CreatedTimestamp:   now.Format(isoTimestamp),
		ActualFlag:         "Y",
		Status:             g.randomString(upperLetters, 3, 3),
		Name:               g.randomString(lowerLetters, 10, 40),
		ReversalFlag:       "N",
		ReversalSourceCode: "",
	}

	count := g.intRange(minLines, maxLines)
	lines := make([]Line, 0, count)
	var debitSum, creditSum float64
	for number := 1; number <= count; number++ {
		line := Line{
			Number:           number,
			AccountCode:      "A" + g.randomString(digits, 3, 3),
			OrganizationCode: "R" + g.randomString(digits, 3, 3),
			ProjectCode:      "P" + g.randomString(digits, 3, 3),
			LineDescription:  g.randomString(lowerLetters, 10, 80),
		}
		switch {
		case number < count && g.rng.IntN(2) == 0:
			line.Type = LineTypeCredit
			line.EnteredCredit = g.amount()
			creditSum += line.EnteredCredit
		case number < count:
			line.Type = LineTypeDebit
			line.EnteredDebit = g.amount()
			debitSum += line.EnteredDebit
		case debitSum > creditSum:
			line.Type = LineTypeCredit
			line.EnteredCredit = debitSum - creditSum
		default:
			// Ties post a zero-amount debit line.
			line.Type = LineTypeDebit
			line.EnteredDebit = creditSum - debitSum
		}
		line.AccountedDebit = line.EnteredDebit
		line.AccountedCredit = line.EnteredCredit
		lines = append(lines, line)
	}
	return Batch{Header: header, Lines: lines}
}

func (g *Generator) amount() float64 {
	return minAmount + g.rng.Float64()*(maxAmount-minAmount)
}

// intRange returns a uniform integer in [lo, hi].
func (g *Generator) intRange(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *Generator) randomString(alphabet string, minLen, maxLen int) string {
	n := g.intRange(minLen, maxLen)
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[g.rng.IntN(len(alphabet))])
	}
	return b.String()
}
