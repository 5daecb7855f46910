package agent

// Stage is a step of the observe/think/act pipeline.
type Stage int

const (
	StageIdle Stage = iota
	StageObserving
	StageThinking
	StageActing
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageObserving:
		return "observing"
	case StageThinking:
		return "thinking"
	case StageActing:
		return "acting"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageResult is what every stage returns: a value or an error, never both.
type StageResult[T any] struct {
	Stage Stage
	Value T
	Err   error
}

func ok[T any](s Stage, v T) StageResult[T] { return StageResult[T]{Stage: s, Value: v} }

func failed[T any](s Stage, err error) StageResult[T] { return StageResult[T]{Stage: s, Err: err} }
