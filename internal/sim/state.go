package sim

import "sync/atomic"

// LoopState — состояние жизненного цикла цикла симуляции
type LoopState int32

const (
	StateIdle LoopState = iota
	StateTicking
	StateShuttingDown
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTicking:
		return "ticking"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Допустимые переходы; всё остальное игнорируется
var loopTransitions = map[LoopState][]LoopState{
	StateIdle:         {StateTicking, StateStopped},
	StateTicking:      {StateShuttingDown},
	StateShuttingDown: {StateStopped},
}

// loopFSM хранит состояние цикла атомарно: переходы делает только
// горутина симуляции, читать может кто угодно
type loopFSM struct {
	state atomic.Int32
}

// Transition выполняет переход, если он допустим
func (f *loopFSM) Transition(to LoopState) bool {
	from := LoopState(f.state.Load())
	for _, allowed := range loopTransitions[from] {
		if allowed == to {
			f.state.Store(int32(to))
			return true
		}
	}
	return false
}

// Current возвращает текущее состояние
func (f *loopFSM) Current() LoopState {
	return LoopState(f.state.Load())
}
