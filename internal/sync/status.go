package sync

// TargetStatus is the lifecycle state of one sync target.
type TargetStatus string

const (
	TargetUninitialized TargetStatus = "uninitialized"
	TargetInitializing  TargetStatus = "initializing"
	TargetIdle          TargetStatus = "idle"
	TargetScanning      TargetStatus = "scanning"
	TargetCollecting    TargetStatus = "collecting"
	TargetSyncing       TargetStatus = "syncing"
	TargetError         TargetStatus = "error"
)

// targetTransitions is the fixed transition table. Any state may move
// to TargetError; TargetError leaves only through explicit recovery.
var targetTransitions = map[TargetStatus][]TargetStatus{
	TargetUninitialized: {TargetInitializing},
	TargetInitializing:  {TargetIdle},
	TargetIdle:          {TargetScanning, TargetCollecting},
	TargetScanning:      {TargetIdle},
	TargetCollecting:    {TargetSyncing, TargetIdle},
	TargetSyncing:       {TargetIdle},
	TargetError:         {TargetIdle},
}

func targetTransitionAllowed(from, to TargetStatus) bool {
	if to == TargetError {
		return true
	}
	for _, next := range targetTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Phase is the global state of the sync manager.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseReady         Phase = "ready"
	PhaseSyncing       Phase = "syncing"
	PhaseConflict      Phase = "conflict"
	PhaseResolving     Phase = "resolving"
	PhaseError         Phase = "error"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseUninitialized: {PhaseReady},
	PhaseReady:         {PhaseSyncing},
	PhaseSyncing:       {PhaseReady, PhaseConflict},
	PhaseConflict:      {PhaseResolving},
	PhaseResolving:     {PhaseReady},
	PhaseError:         {PhaseReady},
}

func phaseTransitionAllowed(from, to Phase) bool {
	if to == PhaseError {
		return true
	}
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
