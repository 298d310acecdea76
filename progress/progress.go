// Package progress draws one terminal bar per running file transfer.
package progress

import (
	"io"
	"sync"

	"github.com/Dyastin-0/swapbytes/types"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type Progress struct {
	mu       sync.Mutex
	progress *mpb.Progress
	bars     map[string]*mpb.Bar
}

// New draws to out. A nil out discards the bars.
func New(out io.Writer) *Progress {
	return &Progress{
		progress: mpb.New(mpb.WithOutput(out), mpb.WithWidth(40)),
		bars:     make(map[string]*mpb.Bar),
	}
}

func (p *Progress) newBar(total int64, text string) *mpb.Bar {
	return p.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: 24, C: decor.DindentRight}),
			decor.CountersKibiByte(" % .2f / % .2f", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Elapsed(1, decor.WC{W: 12, C: decor.DindentRight}),
		),
	)
}

// Update moves the bar of pr's transfer. Bars appear once the size is known
// and are finished or aborted when the transfer reaches a terminal state.
func (p *Progress) Update(pr *types.Progress) {
	if pr == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[pr.TransferID]
	if !ok {
		if !pr.TotalKnown || pr.State.Terminal() {
			return
		}
		bar = p.newBar(int64(pr.Total), label(pr))
		p.bars[pr.TransferID] = bar
	}

	switch {
	case pr.State == types.TransferComplete:
		bar.SetTotal(int64(pr.Total), true)
		delete(p.bars, pr.TransferID)
	case pr.State.Terminal():
		bar.Abort(false)
		delete(p.bars, pr.TransferID)
	default:
		bar.SetCurrent(int64(pr.Done))
	}
}

// Active is the number of bars still running.
func (p *Progress) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bars)
}

// Close aborts whatever is still running and waits for the last render.
func (p *Progress) Close() {
	p.mu.Lock()
	for id, bar := range p.bars {
		bar.Abort(false)
		delete(p.bars, id)
	}
	p.mu.Unlock()

	p.progress.Wait()
}

func label(pr *types.Progress) string {
	if pr.Direction == types.Outbound {
		return "send " + pr.Filename
	}
	return "recv " + pr.Filename
}
