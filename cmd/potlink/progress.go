package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/srg/potlink/internal/provision"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter redraws a single status line with the current phase and elapsed
// or remaining seconds. On a non-terminal writer it prints each phase once instead.
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	animated bool
	phase    atomic.Value // string
	duration time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	startTime time.Time
	stopChan  chan struct{}
	done      chan struct{}

	mu sync.Mutex // serializes writes
}

// NewProgressPrinter counts up from zero
func NewProgressPrinter(out io.Writer, prefix, phase string, animated bool) *ProgressPrinter {
	p := &ProgressPrinter{out: out, prefix: prefix, animated: animated}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter counts down from duration
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, animated bool) *ProgressPrinter {
	p := NewProgressPrinter(out, prefix, phase, animated)
	p.duration = duration
	return p
}

// Start begins drawing
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		p.startTime = time.Now()
		p.stopChan = make(chan struct{})
		p.done = make(chan struct{})
		if !p.animated {
			close(p.done)
			p.printStatic(p.phase.Load().(string))
			return
		}
		p.draw(p.phase.Load().(string), 0)
		go p.loop()
	})
}

func (p *ProgressPrinter) loop() {
	defer close(p.done)
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			elapsed := time.Since(p.startTime)
			seconds := int(elapsed.Seconds())
			if p.duration > 0 {
				// round to the nearest second
				seconds = int((p.duration - elapsed).Seconds() + 0.5)
				if seconds < 0 {
					seconds = 0
				}
			}
			p.draw(p.phase.Load().(string), seconds)
		}
	}
}

func (p *ProgressPrinter) draw(phase string, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) printStatic(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s: %s\n", p.prefix, phase)
}

// SetPhase updates the displayed phase; safe from any goroutine
func (p *ProgressPrinter) SetPhase(phase string) {
	if prev, _ := p.phase.Swap(phase).(string); prev == phase {
		return
	}
	if !p.animated {
		p.printStatic(phase)
	}
}

// Println writes line above the status line; the next tick redraws it
func (p *ProgressPrinter) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.animated {
		fmt.Fprint(p.out, clearLineSequence)
	}
	fmt.Fprintln(p.out, line)
}

// Stop ends drawing and clears the line
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if p.stopChan == nil {
			return
		}
		close(p.stopChan)
		<-p.done
		if p.animated {
			p.mu.Lock()
			fmt.Fprint(p.out, clearLineSequence)
			p.mu.Unlock()
		}
	})
}

var stepLabels = map[provision.Step]string{
	provision.StepPowerCheck:   "checking Bluetooth",
	provision.StepDiscover:     "discovering services",
	provision.StepReadIdentity: "reading pot identity",
	provision.StepArmMonitor:   "listening for acknowledgement",
	provision.StepWriteConfig:  "sending settings",
	provision.StepAwaitAck:     "waiting for the pot",
	provision.StepPersist:      "saving",
}

// StepCallback adapts the printer to sync progress
func (p *ProgressPrinter) StepCallback() func(provision.Step) {
	return func(s provision.Step) {
		label, ok := stepLabels[s]
		if !ok {
			label = string(s)
		}
		p.SetPhase(label)
	}
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
)
