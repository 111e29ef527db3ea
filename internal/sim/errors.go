package sim

import "fmt"

// SimulationError — ошибка игровой логики одной сущности.
// Локализует сбой: остальные сущности тика обрабатываются дальше.
type SimulationError struct {
	EntityID uint64
	Tick     uint64
	Cause    interface{}
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation error: entity=%d tick=%d cause=%v", e.EntityID, e.Tick, e.Cause)
}
