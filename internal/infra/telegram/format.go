// internal/infra/telegram/format.go
package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"khatam_bot/internal/app"
	"khatam_bot/internal/domain/khatam"
)

const (
	gridColumns   = 5
	nameWidth     = 8
	progressWidth = 10
)

var errNoUnits = errors.New("no Juz numbers given")

// FormatStatus renders the board the way participants see it in chat.
func FormatStatus(snap *app.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 %s Khatam\n", snap.Period)
	fmt.Fprintf(&b, "Khatams Completed: %d\n\n", snap.Metadata.CycleCount)

	for i, u := range snap.Units {
		cell := fmt.Sprintf("%2d:—", u.Index)
		if u.Claimed() {
			cell = fmt.Sprintf("%2d:%s", u.Index, shortName(u.ClaimantName.String))
		}
		b.WriteString(cell)
		if (i+1)%gridColumns == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString("  ")
		}
	}
	if len(snap.Units)%gridColumns != 0 {
		b.WriteString("\n")
	}

	taken := snap.ClaimedCount()
	fmt.Fprintf(&b, "\n%s\n%d / %d Juz Taken", progressBar(taken), taken, khatam.TotalUnits)
	return b.String()
}

// FormatHistory renders the archive grouped by period, then by khatam.
func FormatHistory(groups []app.PeriodGroup) string {
	if len(groups) == 0 {
		return "No history records found."
	}
	var b strings.Builder
	b.WriteString("📜 History Archive\n")
	for _, pg := range groups {
		fmt.Fprintf(&b, "\n📂 %s (%d Khatams)\n", pg.Period, len(pg.Cycles))
		for _, cg := range pg.Cycles {
			parts := make([]string, len(cg.Entries))
			for i, e := range cg.Entries {
				parts[i] = fmt.Sprintf("%d:%s", e.UnitIndex, e.ClaimantName)
			}
			fmt.Fprintf(&b, "  Khatam #%d: %s\n", cg.Number, strings.Join(parts, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortName(name string) string {
	if utf8.RuneCountInString(name) <= nameWidth {
		return name
	}
	return string([]rune(name)[:nameWidth])
}

func progressBar(taken int) string {
	filled := taken * progressWidth / khatam.TotalUnits
	return strings.Repeat("▓", filled) + strings.Repeat("░", progressWidth-filled)
}

// ParseClaimArgs splits "/claim" arguments into Juz numbers and a claimant name.
// Numbers may come before or after the name and accept lists ("1,2") and ranges ("5-7").
func ParseClaimArgs(args []string) ([]int, string, error) {
	if len(args) == 0 {
		return nil, "", errNoUnits
	}

	// Leading numbers, then the name.
	split := 0
	var indices []int
	for split < len(args) {
		got, ok, err := parseUnitToken(args[split])
		if err != nil {
			return nil, "", err
		}
		if !ok {
			break
		}
		indices = append(indices, got...)
		split++
	}
	if split > 0 {
		return indices, strings.Join(args[split:], " "), nil
	}

	// Name first, then trailing numbers.
	split = len(args)
	for split > 0 {
		got, ok, err := parseUnitToken(args[split-1])
		if err != nil {
			return nil, "", err
		}
		if !ok {
			break
		}
		indices = append(got, indices...)
		split--
	}
	if len(indices) == 0 {
		return nil, "", errNoUnits
	}
	return indices, strings.Join(args[:split], " "), nil
}

// parseUnitToken reports ok=false when token is not numeric at all.
func parseUnitToken(token string) ([]int, bool, error) {
	token = strings.Trim(token, ",")
	if token == "" || !startsWithDigit(token) {
		return nil, false, nil
	}

	var out []int
	for _, part := range strings.Split(token, ",") {
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, false, fmt.Errorf("%q is not a Juz number", part)
		}
		to := from
		if isRange {
			to, err = strconv.Atoi(hi)
			if err != nil {
				return nil, false, fmt.Errorf("%q is not a Juz range", part)
			}
		}
		if to < from || to-from >= khatam.TotalUnits {
			return nil, false, fmt.Errorf("%q is not a valid Juz range", part)
		}
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
	}
	return out, true, nil
}

func startsWithDigit(s string) bool {
	return s[0] >= '0' && s[0] <= '9'
}
