package consensus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-labs/lattice/lib"
)

/*
	The Controller is the adaptive mode state machine. On a fixed cadence it
	samples the injected metrics source and maps the reliability score onto a
	consensus mode:

	- reliability below 0.60          -> proof of work
	- reliability in [0.60, 0.80]     -> pbft
	- reliability above 0.80          -> proof of stake

	A mode switch is only committed once the target has persisted for the
	configured dwell, measured in evaluation ticks: a target diverging from the
	active mode must be re-observed on consecutive ticks before it commits,
	which suppresses oscillation when the score hovers around a boundary. When
	the metrics source fails, the controller enters degraded evaluation: the
	current mode is held and no transition can be committed until a sample
	succeeds again. ForceSwitch bypasses both the threshold table and the dwell
	for operator intervention.
*/

const (
	pbftReliabilityFloor = 0.60 // below this the network runs proof of work
	posReliabilityFloor  = 0.80 // above this the network runs proof of stake
)

// Transition is one committed mode switch in the audit history
type Transition struct {
	From        lib.ConsensusMode `json:"from"`        // the previous mode
	To          lib.ConsensusMode `json:"to"`          // the committed mode
	Reliability float64           `json:"reliability"` // the score that drove the switch; 0 when forced
	Forced      bool              `json:"forced"`      // true for operator intervention
	Timestamp   int64             `json:"timestamp"`   // unix micro timestamp of the switch
}

// Controller is the adaptive consensus mode state machine
type Controller struct {
	mode atomic.Uint32 // the active mode; exactly one at any instant, lock-free reads

	mu            sync.RWMutex      // guards the state machine below
	pendingTarget lib.ConsensusMode // the diverging target waiting out the dwell
	pendingTicks  int               // consecutive ticks the pending target persisted
	degraded      bool              // true while the metrics source is unavailable
	transitions   []Transition      // committed switch history

	config   lib.ConsensusConfig // cadence, dwell
	source   lib.MetricsSource   // the sampled health feed
	registry *Registry           // the validator set behind Quorum()
	metrics  *lib.Metrics        // telemetry
	log      lib.LoggerI         // logger

	stop chan struct{} // closed to stop the evaluation loop
	done chan struct{} // closed when the evaluation loop exits
}

// NewController() creates a controller starting in proof of stake
func NewController(config lib.ConsensusConfig, source lib.MetricsSource, registry *Registry,
	metrics *lib.Metrics, log lib.LoggerI) *Controller {
	c := &Controller{
		config:   config,
		source:   source,
		registry: registry,
		metrics:  metrics,
		log:      log,
	}
	c.mode.Store(uint32(lib.ProofOfStake))
	metrics.UpdateActiveMode(lib.ProofOfStake)
	return c
}

// CurrentMode() returns the active consensus mode without taking a lock
func (c *Controller) CurrentMode() lib.ConsensusMode {
	return lib.ConsensusMode(c.mode.Load())
}

// Degraded() reports whether the controller is holding its mode on stale metrics
func (c *Controller) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Transitions() returns a copy of the committed transition history
func (c *Controller) Transitions() []Transition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Transition{}, c.transitions...)
}

// TargetMode() maps a reliability score onto the threshold table
func TargetMode(reliability float64) lib.ConsensusMode {
	switch {
	case reliability < pbftReliabilityFloor:
		return lib.ProofOfWork
	case reliability <= posReliabilityFloor:
		return lib.PBFT
	}
	return lib.ProofOfStake
}

// Evaluate() samples the metrics source once and drives the state machine; a
// failed sample enters degraded evaluation and holds the current mode
func (c *Controller) Evaluate(ctx context.Context) lib.ErrorI {
	ctx, cancel := context.WithTimeout(ctx, c.config.EvaluateInterval())
	defer cancel()
	sample, err := c.source.Sample(ctx)
	if err != nil {
		c.setDegraded(true)
		return ErrEvaluationDegraded(err)
	}
	c.setDegraded(false)
	c.evaluate(sample, time.Now())
	return nil
}

// evaluate() applies one sample to the state machine at the given instant
func (c *Controller) evaluate(sample lib.NetworkMetrics, now time.Time) {
	target := TargetMode(sample.ReliabilityScore)
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.CurrentMode()
	if target == current {
		// the divergence did not persist; the dwell starts over
		c.pendingTicks = 0
		return
	}
	if target != c.pendingTarget {
		c.pendingTarget, c.pendingTicks = target, 0
	}
	c.pendingTicks++
	// a boundary-hovering score flips the target every tick; dwell absorbs it
	if c.pendingTicks < c.dwellTicks() {
		c.log.Debugf("switch %s -> %s suppressed: target observed %d of %d dwell ticks",
			current, target, c.pendingTicks, c.dwellTicks())
		return
	}
	c.commit(target, sample.ReliabilityScore, false, now)
}

// dwellTicks() is the number of consecutive diverging ticks required before a
// switch commits; a dwell below one evaluation interval disables suppression
func (c *Controller) dwellTicks() int {
	if c.config.EvaluateIntervalMS <= 0 {
		return 1
	}
	ticks := c.config.MinDwellMS / c.config.EvaluateIntervalMS
	if ticks < 1 {
		return 1
	}
	return ticks
}

// ForceSwitch() commits a mode immediately, bypassing the threshold table and
// the dwell; the dwell timer restarts from the forced switch
func (c *Controller) ForceSwitch(mode lib.ConsensusMode) lib.ErrorI {
	if err := lib.ValidMode(mode); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.CurrentMode() {
		return nil
	}
	c.commit(mode, 0, true, time.Now())
	return nil
}

// commit() performs a mode switch with the lock held
func (c *Controller) commit(target lib.ConsensusMode, reliability float64, forced bool, now time.Time) {
	from := c.CurrentMode()
	c.transitions = append(c.transitions, Transition{
		From:        from,
		To:          target,
		Reliability: reliability,
		Forced:      forced,
		Timestamp:   now.UnixMicro(),
	})
	c.log.Infof("consensus mode switched %s -> %s (reliability %.2f, forced %t)", from, target, reliability, forced)
	c.mode.Store(uint32(target))
	c.pendingTarget, c.pendingTicks = target, 0
	c.metrics.UpdateActiveMode(target)
	c.metrics.IncModeTransition()
}

// setDegraded() flips the degraded-evaluation flag and its telemetry
func (c *Controller) setDegraded(degraded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded == degraded {
		return
	}
	c.degraded = degraded
	c.metrics.SetDegraded(degraded)
	if degraded {
		c.log.Warn("entering degraded evaluation: holding the current mode")
	} else {
		c.log.Info("metrics sample recovered, resuming evaluation")
	}
}

// Quorum() selects the participant set of the active mode from the registry
func (c *Controller) Quorum() ([]Validator, lib.ErrorI) {
	return c.registry.SelectQuorum(c.CurrentMode())
}

// Start() launches the background evaluation loop on the configured cadence;
// starting an already running controller is a no-op
func (c *Controller) Start(ctx context.Context) {
	if c.stop != nil {
		return
	}
	c.stop, c.done = make(chan struct{}), make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.config.EvaluateInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Evaluate(ctx); err != nil {
					c.log.Warnf("evaluation tick failed: %s", err.Error())
				}
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop() stops the background evaluation loop and waits for it to exit
func (c *Controller) Stop() {
	if c.stop == nil {
		return
	}
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
	c.stop, c.done = nil, nil
}
