// Package progress wraps a terminal progress bar for interactive runs. A nil
// *Bar is valid and does nothing, the service passes nil when output is not
// a terminal or when running as a long-lived daemon.
package progress

import (
	"github.com/schollz/progressbar/v3"
)

type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a progress bar with max steps. If enabled is false, it returns
// nil, which all methods accept.
func New(max int, description string, enabled bool) *Bar {
	if !enabled {
		return nil
	}

	return &Bar{
		bar: progressbar.NewOptions(max,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.bar.Finish()
}
