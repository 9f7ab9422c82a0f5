package lifecycle

import "context"

// Stage orders shutdown hooks. Lower stages finish before higher ones start.
type Stage int

const (
	// StageDrain stops accepting new work: readiness, HTTP listener, scheduler.
	StageDrain Stage = iota
	// StageWorkers waits for in-flight background work.
	StageWorkers
	// StageResources closes shared connections.
	StageResources
)

func (s Stage) String() string {
	switch s {
	case StageDrain:
		return "drain"
	case StageWorkers:
		return "workers"
	case StageResources:
		return "resources"
	}
	return "unknown"
}

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Stage Stage
	Fn    func(ctx context.Context) error
}
