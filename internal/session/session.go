// Package session хранит состояние подключённых клиентов.
// Сессии принадлежат домену симуляции: создаются и разрушаются по
// событиям транспорта, доставленным через каналы, а не по разделяемым
// флагам.
package session

import (
	"github.com/google/uuid"

	"github.com/annel0/matta-server/internal/input"
)

// Глубина истории видимых наборов; согласована с глубиной
// истории дельт по умолчанию
const viewHistoryDepth = 64

// Session — состояние одного клиента: очередь ввода, подтверждённый
// тик и набор релевантных сущностей. Владеет очередью ввода эксклюзивно.
type Session struct {
	ID       uuid.UUID
	Name     string
	EntityID uint64 // Сущность-аватар клиента в мире

	Inputs *input.Buffer

	// Набор сущностей, реплицируемых клиенту; обновляется каждый тик
	Interest map[uint64]struct{}

	// Набор сущностей, видимых клиенту на подтверждённом базовом тике.
	// Дельта строится относительно него: сущность вне этого набора для
	// клиента не существует, даже если она была в мире на базовом тике.
	BaseView map[uint64]struct{}

	// Видимые наборы по тикам отправленных снапшотов; подтверждение
	// тика переводит его набор в BaseView
	sentViews map[uint64]map[uint64]struct{}
	viewTicks []uint64

	lastAcked uint64
	hasAcked  bool

	// Тик последнего отправленного клиенту снапшота
	LastSnapshotTick uint64

	// Клиенту нужен кейфрейм (новая сессия или база устарела)
	NeedKeyframe bool

	// Сессия помечена на разрыв (транспорт сообщил об ошибке отправки)
	Disconnecting bool

	joinSeq uint64
}

// RecordView фиксирует набор сущностей, отправленный клиенту в снапшоте
// тика. История ограничена по глубине.
func (s *Session) RecordView(tick uint64, view map[uint64]struct{}) {
	if s.sentViews == nil {
		s.sentViews = make(map[uint64]map[uint64]struct{})
	}
	if _, ok := s.sentViews[tick]; !ok {
		s.viewTicks = append(s.viewTicks, tick)
	}
	s.sentViews[tick] = view

	for len(s.viewTicks) > viewHistoryDepth {
		delete(s.sentViews, s.viewTicks[0])
		s.viewTicks = s.viewTicks[1:]
	}
}

// Acknowledge фиксирует подтверждённый клиентом тик.
// Подтверждения монотонны: более старые игнорируются.
// Видимый набор подтверждённого тика становится базой для дельт;
// подтверждение тика, снапшот которого не отправлялся или уже
// вытеснен из истории, вынуждает кейфрейм.
func (s *Session) Acknowledge(tick uint64) {
	if s.hasAcked && tick <= s.lastAcked {
		return
	}
	s.lastAcked = tick
	s.hasAcked = true

	if view, ok := s.sentViews[tick]; ok {
		s.BaseView = view
	} else {
		s.BaseView = nil
		s.NeedKeyframe = true
	}

	// Наборы не новее подтверждённого больше не понадобятся
	kept := s.viewTicks[:0]
	for _, t := range s.viewTicks {
		if t <= tick {
			delete(s.sentViews, t)
		} else {
			kept = append(kept, t)
		}
	}
	s.viewTicks = kept
}

// LastAcked возвращает последний подтверждённый тик.
// ok == false, пока клиент не подтвердил ни одного снапшота.
func (s *Session) LastAcked() (uint64, bool) {
	return s.lastAcked, s.hasAcked
}

// InvalidateBaseline сбрасывает подтверждённую базу — клиент получит кейфрейм
func (s *Session) InvalidateBaseline() {
	s.hasAcked = false
	s.NeedKeyframe = true
	s.BaseView = nil
}
