package sync

import (
	"regexp"
	"strings"

	"github.com/dentledger/dentledger/internal/domain/patient"
)

// ParseResult is the structured reading of one calendar event title.
type ParseResult struct {
	ChartID       string
	PatientName   string
	ProcedureNote string
	IsProspect    bool
}

var digitRun = regexp.MustCompile(`[0-9]+`)

// anchorLengths are the chart id digit-run lengths the clinics have used,
// in priority order. A 10-digit run wins over a shorter one even when the
// shorter run occurs earlier in the title.
var anchorLengths = []int{10, 7, 4}

// ParseTitle reads one free-text event title into a chart id, patient name
// and procedure note. Returns nil when the title is excluded from ingestion
// (a name containing '+' marks a shared or placeholder slot, not a patient).
//
// Titles come in three shapes, decided by the position of the first digit
// run of an accepted length:
//
//	V0912345678-王小明-矯正    standard: [prefix][id]-[name]-[note]
//	王小明-0912345-矯正        swapped:  [name]-[id]-[note]
//	王小明-洗牙                no id:    [name]-[note]
//
// A 10-digit id or no id at all marks the visit as a prospect; 4- and
// 7-digit ids are confirmed chart numbers.
func ParseTitle(title string) *ParseResult {
	start, end := findAnchor(title)

	var res ParseResult
	if start < 0 {
		res.ChartID = patient.ChartIDSentinel
		res.IsProspect = true
		res.PatientName, res.ProcedureNote = splitOnce(title)
	} else {
		res.ChartID = title[start:end]
		res.IsProspect = end-start == 10
		if start > 0 && title[start-1] == '-' {
			res.PatientName = title[:start-1]
			res.ProcedureNote = strings.TrimPrefix(title[end:], "-")
		} else {
			rest := strings.TrimPrefix(title[end:], "-")
			res.PatientName, res.ProcedureNote = splitOnce(rest)
		}
	}

	res.PatientName = strings.TrimSpace(res.PatientName)
	res.ProcedureNote = strings.TrimSpace(res.ProcedureNote)
	if strings.Contains(res.PatientName, "+") {
		return nil
	}
	return &res
}

// findAnchor returns the byte range of the anchor identifier: the first
// maximal digit run whose length is exactly 10, then 7, then 4.
func findAnchor(s string) (int, int) {
	runs := digitRun.FindAllStringIndex(s, -1)
	for _, want := range anchorLengths {
		for _, r := range runs {
			if r[1]-r[0] == want {
				return r[0], r[1]
			}
		}
	}
	return -1, -1
}

// splitOnce splits on the first hyphen into name and note; no hyphen means
// the whole text is the name.
func splitOnce(s string) (string, string) {
	if i := strings.Index(s, "-"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
