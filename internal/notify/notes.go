package notify

import (
	"fmt"
	"strings"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/ledger"
)

// ReleaseNotes строит текстовый отчёт run'а из журнала.
//
// Отчёт строится только из записей журнала: он воспроизводим после
// рестарта и не зависит от живого состояния scheduler'а.
func ReleaseNotes(run domain.PipelineRun, entries []ledger.Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s of pipeline %q on %s (%s)\n",
		run.ID, run.Context.Pipeline, run.Context.Branch, run.Context.Event)
	if run.Context.CommitSHA != "" {
		fmt.Fprintf(&b, "Commit: %s\n", run.Context.CommitSHA)
	}
	fmt.Fprintf(&b, "Outcome: %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", run.Error)
	}
	b.WriteString("\nJobs:\n")

	// Терминальная запись каждого job'а в порядке завершения
	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.To.IsTerminal() || seen[e.JobID] {
			continue
		}
		seen[e.JobID] = true

		fmt.Fprintf(&b, "  %-12s %s", string(e.To), e.JobID)
		if e.Detail != "" {
			fmt.Fprintf(&b, " (%s)", e.Detail)
		}
		if len(e.Artifacts) > 0 {
			fmt.Fprintf(&b, " [artifacts: %s]", strings.Join(e.Artifacts, ", "))
		}
		b.WriteByte('\n')
	}

	return b.String()
}
