// Package input реализует буферизацию команд ввода клиентов.
// Каждая сессия владеет своим буфером эксклюзивно: доступ идёт только
// из потока симуляции, поэтому блокировки не нужны.
package input

import (
	"sort"

	"github.com/annel0/matta-server/internal/protocol"
)

// Buffer — упорядоченная по ClientTick очередь команд одного клиента.
// Устаревшие и повторные команды отбрасываются молча; глубина очереди
// ограничена, при переполнении теряется самая старая команда.
type Buffer struct {
	pending      []protocol.Input
	lastConsumed uint32
	capacity     int

	staleDropped    uint64
	overflowDropped uint64
}

// NewBuffer создаёт буфер с указанным пределом глубины
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 128
	}
	return &Buffer{
		pending:  make([]protocol.Input, 0, 16),
		capacity: capacity,
	}
}

// Push добавляет команду в буфер.
// Команды с ClientTick <= последнего потреблённого отбрасываются как
// устаревшие или повторные. Возвращает false, если команда отброшена.
func (b *Buffer) Push(cmd protocol.Input) bool {
	if cmd.ClientTick <= b.lastConsumed {
		b.staleDropped++
		return false
	}

	// Ищем позицию вставки, поддерживая сортировку по ClientTick.
	// Обычно команды приходят по порядку и вставка идёт в конец.
	idx := sort.Search(len(b.pending), func(i int) bool {
		return b.pending[i].ClientTick >= cmd.ClientTick
	})
	if idx < len(b.pending) && b.pending[idx].ClientTick == cmd.ClientTick {
		// Дубликат ещё не потреблённой команды
		b.staleDropped++
		return false
	}

	b.pending = append(b.pending, protocol.Input{})
	copy(b.pending[idx+1:], b.pending[idx:])
	b.pending[idx] = cmd

	// Ограничение глубины: теряем самую старую непотреблённую команду
	if len(b.pending) > b.capacity {
		b.pending = b.pending[1:]
		b.overflowDropped++
		return idx > 0
	}
	return true
}

// DrainDue возвращает все команды с ClientTick в окне
// (lastConsumed, currentTick+maxLookahead], потребляя их.
// Команды дальше окна остаются в буфере до следующего тика.
func (b *Buffer) DrainDue(currentTick uint64, maxLookahead uint32) []protocol.Input {
	if len(b.pending) == 0 {
		return nil
	}

	// ClientTick — 32-битные часы клиента; серверный тик сводится к той же
	// ширине. Переполнение наступает после ~2.27 лет аптайма при 60 Гц,
	// задолго до этого сессии переживают переподключение
	limit := uint32(currentTick) + maxLookahead
	n := 0
	for n < len(b.pending) && b.pending[n].ClientTick <= limit {
		n++
	}
	if n == 0 {
		return nil
	}

	due := make([]protocol.Input, n)
	copy(due, b.pending[:n])
	b.pending = b.pending[:copy(b.pending, b.pending[n:])]
	b.lastConsumed = due[n-1].ClientTick
	return due
}

// Len возвращает число ожидающих команд
func (b *Buffer) Len() int { return len(b.pending) }

// LastConsumed возвращает ClientTick последней потреблённой команды
func (b *Buffer) LastConsumed() uint32 { return b.lastConsumed }

// StaleDropped возвращает счётчик отброшенных устаревших/повторных команд
func (b *Buffer) StaleDropped() uint64 { return b.staleDropped }

// OverflowDropped возвращает счётчик потерь из-за переполнения
func (b *Buffer) OverflowDropped() uint64 { return b.overflowDropped }
