package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// NewBar returns a bar counting total items under label, redrawn on out at
// most every 200ms. A nil out yields a silent bar so callers never branch.
func NewBar(out io.Writer, total int64, label string) *progressbar.ProgressBar {
	if out == nil {
		return progressbar.DefaultSilent(total, label)
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("["+label+"]"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
	)
}
