// Package ids generates the human-readable sequential identifiers carried by
// every record (BLD-001, CLT-2026-0001, INC-003, ...).
package ids

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Kind describes the identifier format of one entity type
type Kind struct {
	Prefix     string
	Width      int  // minimum zero-padded width of the sequence
	YearScoped bool // PREFIX-YYYY-NNNN, sequence restarts every year
}

var (
	Admin        = Kind{Prefix: "ADM", Width: 3}
	Building     = Kind{Prefix: "BLD", Width: 3}
	Apartment    = Kind{Prefix: "APT", Width: 3}
	Tenant       = Kind{Prefix: "CLT", Width: 4, YearScoped: true}
	Application  = Kind{Prefix: "APP", Width: 4, YearScoped: true}
	Lease        = Kind{Prefix: "LSE", Width: 4, YearScoped: true}
	Payment      = Kind{Prefix: "PAY", Width: 4, YearScoped: true}
	Incident     = Kind{Prefix: "INC", Width: 3}
	Conversation = Kind{Prefix: "CNV", Width: 3}
	Document     = Kind{Prefix: "DOC", Width: 3}
)

var (
	patternsMu sync.RWMutex
	patterns   = make(map[Kind]*regexp.Regexp)
)

func (k Kind) pattern() *regexp.Regexp {
	patternsMu.RLock()
	re, ok := patterns[k]
	patternsMu.RUnlock()
	if ok {
		return re
	}

	expr := `^` + regexp.QuoteMeta(k.Prefix) + `-(\d+)$`
	if k.YearScoped {
		expr = `^` + regexp.QuoteMeta(k.Prefix) + `-(\d{4})-(\d+)$`
	}
	re = regexp.MustCompile(expr)

	patternsMu.Lock()
	patterns[k] = re
	patternsMu.Unlock()
	return re
}

// Parse extracts the year (0 for global kinds) and sequence number of id.
func Parse(k Kind, id string) (year, seq int, ok bool) {
	m := k.pattern().FindStringSubmatch(id)
	if m == nil {
		return 0, 0, false
	}
	if k.YearScoped {
		year, _ = strconv.Atoi(m[1])
		seq, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, false
		}
		return year, seq, true
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	return 0, seq, true
}

// Valid reports whether id has the format of k
func Valid(k Kind, id string) bool {
	_, _, ok := Parse(k, id)
	return ok
}

// Format renders a sequence number. year is ignored for global kinds.
func Format(k Kind, year, seq int) string {
	if k.YearScoped {
		return fmt.Sprintf("%s-%04d-%0*d", k.Prefix, year, k.Width, seq)
	}
	return fmt.Sprintf("%s-%0*d", k.Prefix, k.Width, seq)
}

// Next returns the identifier following the highest one found in existing.
// IDs that do not match the format of k are ignored; for year-scoped kinds
// only IDs of now's year count.
func Next(k Kind, existing []string, now time.Time) string {
	year := now.Year()
	max := 0
	for _, id := range existing {
		y, seq, ok := Parse(k, id)
		if !ok {
			continue
		}
		if k.YearScoped && y != year {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return Format(k, year, max+1)
}

// LikePattern returns a SQL LIKE pattern narrowing a table scan to the
// identifiers Next has to consider.
func (k Kind) LikePattern(year int) string {
	if k.YearScoped {
		return fmt.Sprintf("%s-%04d-%%", k.Prefix, year)
	}
	return k.Prefix + "-%"
}
