package main

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// guessProgress renders one bar per guesser strategy, stepped at
// candidate-group boundaries.
type guessProgress struct {
	progress *mpb.Progress
	bar      *mpb.Bar
}

func newGuessProgress() *guessProgress {
	return &guessProgress{progress: mpb.New(mpb.WithWidth(64))}
}

func (p *guessProgress) StartStrategy(name string, groups int) {
	p.bar = p.progress.New(int64(groups),
		mpb.BarStyle(),
		mpb.PrependDecorators(decor.Name(name), decor.CountersNoUnit(" %d / %d")),
		mpb.AppendDecorators(decor.Percentage()),
		mpb.BarRemoveOnComplete(),
	)
}

func (p *guessProgress) Step() {
	if p.bar != nil {
		p.bar.Increment()
	}
}

func (p *guessProgress) EndStrategy() {
	if p.bar != nil {
		p.bar.SetTotal(-1, true)
		p.bar = nil
	}
}

func (p *guessProgress) Wait() {
	p.progress.Wait()
}
