package dispatch

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

// progressRenderer prints a single updating line of job-collection
// progress when Options.Progress is set, in the spirit of dwq/dwqc.py's
// nicetime()-based banner, using the teacher's TTY-detection idiom from
// internal/worker/terminal.go (plain output when not attached to a tty).
type progressRenderer struct {
	out     io.Writer
	enabled bool
	isTTY   bool
}

func newProgressRenderer(out io.Writer, enabled bool) *progressRenderer {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &progressRenderer{out: out, enabled: enabled, isTTY: isTTY}
}

func (p *progressRenderer) render(elapsed time.Duration, tr *tracker) {
	if !p.enabled {
		return
	}
	done := tr.total - len(tr.jobs)
	eta := time.Duration(0)
	if done > 0 && done < tr.total {
		perJob := elapsed / time.Duration(done)
		eta = perJob * time.Duration(tr.total-done)
	}
	line := fmt.Sprintf("%s elapsed, %d/%d done, %d passed, %d failed, ETA %s",
		niceTime(elapsed), done, tr.total, tr.passed, tr.failed, niceTime(eta))
	if p.isTTY {
		fmt.Fprintf(p.out, "\r\033[K%s", line)
	} else {
		fmt.Fprintln(p.out, line)
	}
}

// niceTime formats a duration as a compact "<d>d:<h>h:<m>m:<s>s" string,
// omitting leading zero-valued components, mirroring dwq/dwqc.py's
// nicetime().
func niceTime(d time.Duration) string {
	total := int64(d.Seconds())
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	out := ""
	started := false
	if days > 0 {
		out += fmt.Sprintf("%dd:", days)
		started = true
	}
	if started || hours > 0 {
		out += fmt.Sprintf("%dh:", hours)
		started = true
	}
	if started || minutes > 0 {
		out += fmt.Sprintf("%dm:", minutes)
		started = true
	}
	out += fmt.Sprintf("%ds", seconds)
	return out
}
