package consensus

import (
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/lattice-labs/lattice/lib"
)

/*
	The Registry tracks the validator set and its behavior over time. Reputation
	is an exponentially weighted moving average of observed latency and
	participation, lowered monotonically by penalties: a penalty can never raise
	a reputation and a validator whose reputation reaches zero is deactivated.
	Deactivated validators remain queryable for auditability but are excluded
	from every quorum. Quorum selection is deterministic per consensus mode.

	Locking is fine grained: the registry lock only guards the map itself and
	each record carries its own mutex, so concurrent metric recording against
	different validators never contends.
*/

const (
	defaultReputation = 0.5    // a new validator starts neutral
	ewmaAlpha         = 0.2    // weight of the newest observation
	latencyCeilingMS  = 1000.0 // latency at or above this scores zero
)

// Validator is a registered consensus participant
type Validator struct {
	Address       string  `json:"address"`       // unique validator identifier
	Stake         uint64  `json:"stake"`         // bonded stake
	Reputation    float64 `json:"reputation"`    // behavior score in [0,1]
	LatencyMS     float64 `json:"latencyMS"`     // EWMA of observed response latency
	Participation float64 `json:"participation"` // EWMA of round participation in [0,1]
	Active        bool    `json:"active"`        // false once reputation reaches zero
}

// record pairs a validator with its own lock so per-validator updates never
// contend across the set
type record struct {
	mu  sync.Mutex
	val Validator
}

// Registry is the thread safe validator set
type Registry struct {
	mu         sync.RWMutex       // guards the map only; records carry their own lock
	validators map[string]*record // address -> record; retains deactivated entries
	config     lib.ConsensusConfig
	log        lib.LoggerI
}

// NewRegistry() creates an empty validator registry
func NewRegistry(config lib.ConsensusConfig, log lib.LoggerI) *Registry {
	return &Registry{
		validators: make(map[string]*record),
		config:     config,
		log:        log,
	}
}

// Register() admits a new validator with a neutral reputation
func (r *Registry) Register(address string, stake uint64) lib.ErrorI {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.validators[address]; ok {
		return ErrDuplicateValidator(address)
	}
	r.validators[address] = &record{val: Validator{
		Address:       address,
		Stake:         stake,
		Reputation:    defaultReputation,
		Participation: 1,
		Active:        true,
	}}
	r.log.Infof("validator %s registered with stake %d", address, stake)
	return nil
}

// lookup() finds a validator record under the map lock
func (r *Registry) lookup(address string) (*record, lib.ErrorI) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.validators[address]
	if !ok {
		return nil, ErrUnknownValidator(address)
	}
	return rec, nil
}

// Get() returns a copy of a validator, deactivated ones included
func (r *Registry) Get(address string) (Validator, lib.ErrorI) {
	rec, err := r.lookup(address)
	if err != nil {
		return Validator{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.val, nil
}

// RecordMetrics() folds an observed round into the validator's moving
// averages: latency and participation each update an EWMA, and the combined
// performance score drives the reputation. A deactivated validator never
// recovers this way.
func (r *Registry) RecordMetrics(address string, latencyMS uint64, participated bool) lib.ErrorI {
	rec, err := r.lookup(address)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	v := &rec.val
	if !v.Active {
		return nil
	}
	participation := 0.0
	if participated {
		participation = 1
	}
	v.LatencyMS = (1-ewmaAlpha)*v.LatencyMS + ewmaAlpha*float64(latencyMS)
	v.Participation = (1-ewmaAlpha)*v.Participation + ewmaAlpha*participation
	// a missed round scores zero; an attended one scores by latency
	score := 0.0
	if participated {
		score = clamp01(1 - float64(latencyMS)/latencyCeilingMS)
	}
	v.Reputation = clamp01((1-ewmaAlpha)*v.Reputation + ewmaAlpha*score)
	return nil
}

// Penalize() lowers a validator's reputation by severity; penalties only ever
// lower reputation and a validator at zero is deactivated permanently
func (r *Registry) Penalize(address string, severity float64) lib.ErrorI {
	if severity <= 0 || severity > 1 {
		return ErrInvalidSeverity(severity)
	}
	rec, err := r.lookup(address)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	v := &rec.val
	v.Reputation -= severity
	if v.Reputation <= 0 {
		v.Reputation = 0
		if v.Active {
			v.Active = false
			r.log.Warnf("validator %s deactivated after penalties", address)
		}
	}
	return nil
}

// SelectQuorum() deterministically selects the participant set for a mode:
// - proof of stake: every active staked validator, highest stake first
// - pbft: active validators above the reputation floor, highest reputation
//   first; fails when they cannot form the configured supermajority
// - proof of work: every active validator in address order
func (r *Registry) SelectQuorum(mode lib.ConsensusMode) ([]Validator, lib.ErrorI) {
	if err := lib.ValidMode(mode); err != nil {
		return nil, err
	}
	active := filter(r.snapshot(), func(v Validator) bool { return v.Active })
	switch mode {
	case lib.ProofOfStake:
		staked := filter(active, func(v Validator) bool { return v.Stake > 0 })
		sort.Slice(staked, func(i, j int) bool {
			if staked[i].Stake != staked[j].Stake {
				return staked[i].Stake > staked[j].Stake
			}
			return staked[i].Address < staked[j].Address
		})
		if len(staked) == 0 {
			return nil, ErrNoQuorum(mode, 0, 1)
		}
		return staked, nil
	case lib.PBFT:
		floor := r.pbftReputationFloor()
		eligible := filter(active, func(v Validator) bool { return v.Reputation >= floor })
		needed := supermajority(len(active), r.config.QuorumNumerator, r.config.QuorumDenominator)
		if len(eligible) < needed || needed == 0 {
			return nil, ErrNoQuorum(mode, len(eligible), needed)
		}
		sort.Slice(eligible, func(i, j int) bool {
			if eligible[i].Reputation != eligible[j].Reputation {
				return eligible[i].Reputation > eligible[j].Reputation
			}
			return eligible[i].Address < eligible[j].Address
		})
		return eligible, nil
	default: // proof of work
		sort.Slice(active, func(i, j int) bool { return active[i].Address < active[j].Address })
		if len(active) == 0 {
			return nil, ErrNoQuorum(mode, 0, 1)
		}
		return active, nil
	}
}

// Validators() returns a copy of every validator, deactivated ones included,
// in address order
func (r *Registry) Validators() []Validator {
	all := r.snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].Address < all[j].Address })
	return all
}

// History() returns the deactivated validators in address order; they stay
// queryable for auditability
func (r *Registry) History() []Validator {
	out := filter(r.snapshot(), func(v Validator) bool { return !v.Active })
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// snapshot() copies every record under its own lock
func (r *Registry) snapshot() []Validator {
	r.mu.RLock()
	records := make([]*record, 0, len(r.validators))
	for _, rec := range r.validators {
		records = append(records, rec)
	}
	r.mu.RUnlock()
	out := make([]Validator, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		out = append(out, rec.val)
		rec.mu.Unlock()
	}
	return out
}

// pbftReputationFloor() parses the configured eligibility floor; a malformed
// config value falls back to the developer default
func (r *Registry) pbftReputationFloor() float64 {
	floor, err := strconv.ParseFloat(r.config.PBFTReputationMin, 64)
	if err != nil {
		r.log.Warnf("invalid pbftReputationMin %q, using 0.7", r.config.PBFTReputationMin)
		return 0.7
	}
	return floor
}

// supermajority() is ceil(n * numerator / denominator)
func supermajority(n int, numerator, denominator uint64) int {
	if denominator == 0 {
		return n
	}
	return int(math.Ceil(float64(n) * float64(numerator) / float64(denominator)))
}

// filter() returns the validators satisfying the predicate
func filter(validators []Validator, keep func(Validator) bool) []Validator {
	out := make([]Validator, 0, len(validators))
	for _, v := range validators {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// clamp01() bounds a score to [0,1]
func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
