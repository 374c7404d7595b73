package syncer

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Outcome is the per-repository result of one sync attempt.
type Outcome int

const (
	Synced Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Synced:
		return "synced"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Summary aggregates the per-repository outcomes of one run.
// Total == Synced + Skipped + Failed always holds.
type Summary struct {
	Total   int
	Synced  int
	Skipped int
	Failed  int
}

func (s *Summary) record(o Outcome) {
	s.Total++
	switch o {
	case Synced:
		s.Synced++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Failed++
	}
}

func (s *Summary) String() string {
	return fmt.Sprintf("total=%d synced=%d skipped=%d failed=%d",
		s.Total, s.Synced, s.Skipped, s.Failed)
}

// WriteTable renders the summary for operators watching the job output.
func (s *Summary) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Total", "Synced", "Skipped", "Failed"})
	table.Append([]string{
		strconv.Itoa(s.Total),
		strconv.Itoa(s.Synced),
		strconv.Itoa(s.Skipped),
		strconv.Itoa(s.Failed),
	})
	table.Render()
}
