package progress

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress draws one chunk bar per file in flight.
type Progress struct {
	progress *mpb.Progress

	mu    sync.Mutex
	bar   *mpb.Bar
	total uint32
}

func New() *Progress {
	return &Progress{
		progress: mpb.New(),
	}
}

// NewWithOutput renders to w instead of stdout.
func NewWithOutput(w io.Writer) *Progress {
	return &Progress{
		progress: mpb.New(mpb.WithOutput(w)),
	}
}

func (p *Progress) NewBar(n int64, text string) *mpb.Bar {
	bar := p.progress.AddBar(n,
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: 12, C: decor.DindentRight}),
			decor.CountersNoUnit(" %d / %d chunks", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 6}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12, C: decor.DindentRight}),
		),
	)

	return bar
}

// Track returns a progress observer. A new total starts a new bar labelled
// by label; a total of zero ends the current one, aborting it if it never
// completed.
func (p *Progress) Track(label func() string) func(done, total uint32) {
	return func(done, total uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.bar != nil && total != p.total {
			if !p.bar.Completed() {
				p.bar.Abort(false)
			}
			p.bar = nil
		}

		p.total = total
		if total == 0 {
			return
		}

		if p.bar == nil {
			p.bar = p.NewBar(int64(total), label())
		}

		p.bar.SetCurrent(int64(done))
	}
}

// Bar returns the bar of the file in flight, or nil.
func (p *Progress) Bar() *mpb.Bar {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.bar
}

// Wait ends any bar still open and waits for rendering to finish.
func (p *Progress) Wait() {
	p.mu.Lock()
	if p.bar != nil && !p.bar.Completed() {
		p.bar.Abort(false)
	}
	p.bar = nil
	p.mu.Unlock()

	p.progress.Wait()
}
