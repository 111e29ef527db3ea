// Package replay ведёт журнал кейфреймов симуляции в BadgerDB.
// Журнал пишется вне критического пути тика (кейфреймы редки) и
// служит для пост-мортем анализа и проверки детерминизма: два
// прогона с одинаковыми входами дают байт-в-байт равные кейфреймы.
package replay

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/matta-server/internal/protocol"
)

const keyframePrefix = "kf/"

// Journal — журнал кейфреймов, упорядоченный по тику
type Journal struct {
	db *badger.DB
}

// Open открывает журнал в каталоге dataPath
func Open(dataPath string) (*Journal, error) {
	dbPath := filepath.Join(dataPath, "replay")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenInMemory открывает журнал без диска (тесты, эфемерные запуски)
func OpenInMemory() (*Journal, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close закрывает журнал
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append сохраняет закодированный кейфрейм тика
func (j *Journal) Append(tick uint64, frame []byte) error {
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tickKey(tick), frame)
	})
}

// Read возвращает кейфрейм тика; badger.ErrKeyNotFound — нет записи
func (j *Journal) Read(tick uint64) ([]byte, error) {
	var frame []byte
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tickKey(tick))
		if err != nil {
			return err
		}
		frame, err = item.ValueCopy(nil)
		return err
	})
	return frame, err
}

// Range обходит кейфреймы в диапазоне тиков [from, to] по возрастанию
func (j *Journal) Range(from, to uint64, fn func(tick uint64, frame []byte) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyframePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(tickKey(from)); it.Valid(); it.Next() {
			item := it.Item()
			tick := tickFromKey(item.Key())
			if tick > to {
				return nil
			}
			frame, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(tick, frame); err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest возвращает кейфрейм с наибольшим тиком
func (j *Journal) Latest() (tick uint64, frame []byte, ok bool, err error) {
	err = j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyframePrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// В reverse-итерации стартуем за верхней границей префикса
		it.Seek(tickKey(^uint64(0)))
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		tick = tickFromKey(item.Key())
		frame, err = item.ValueCopy(nil)
		ok = err == nil
		return err
	})
	return tick, frame, ok, err
}

// DecodeKeyframe разбирает журнальную запись обратно в снапшот
func DecodeKeyframe(frame []byte) (*protocol.KeyframeSnapshot, uint64, error) {
	env, err := protocol.Decode(frame, nil)
	if err != nil {
		return nil, 0, err
	}
	kf, ok := env.Msg.(*protocol.KeyframeSnapshot)
	if !ok {
		return nil, 0, fmt.Errorf("запись журнала не является кейфреймом (type=%d)", env.Header.Type)
	}
	return kf, env.Header.Tick, nil
}

// Ключ — префикс плюс тик в big-endian: лексикографический порядок
// ключей совпадает с числовым порядком тиков
func tickKey(tick uint64) []byte {
	key := make([]byte, len(keyframePrefix)+8)
	copy(key, keyframePrefix)
	binary.BigEndian.PutUint64(key[len(keyframePrefix):], tick)
	return key
}

func tickFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(keyframePrefix):])
}
