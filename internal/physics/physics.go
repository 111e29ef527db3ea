// Package physics определяет контракт физического движка для цикла
// симуляции. Внутренности солвера — чёрный ящик: симуляции важен только
// шаг с фиксированным dt и доступ к трансформам тел.
package physics

import (
	"fmt"

	"github.com/annel0/matta-server/internal/vec"
)

// PhysicsError — ошибка шага физики. Симуляция реагирует на неё
// деградированным тиком: шаг физики пропускается целиком, игровая
// логика выполняется.
type PhysicsError struct {
	Handle uint64 // Тело, вызвавшее ошибку (0 — весь мир)
	Reason string
}

func (e *PhysicsError) Error() string {
	return fmt.Sprintf("physics: body %d: %s", e.Handle, e.Reason)
}

// Body — состояние твёрдого тела, видимое симуляции
type Body struct {
	Handle   uint64
	Position vec.Vec3
	Velocity vec.Vec3
	Half     vec.Vec3 // Полуразмеры AABB коллайдера
	Grounded bool
}

// World — контракт физического мира.
// Step детерминирован при идентичных входах и предыдущем состоянии;
// это обязательное свойство для воспроизведения и верификации.
type World interface {
	// CreateBody добавляет тело и возвращает его хэндл
	CreateBody(pos vec.Vec3, half vec.Vec3) uint64

	// RemoveBody удаляет тело; незнакомый хэндл игнорируется
	RemoveBody(handle uint64)

	// SetVelocity задаёт горизонтальную скорость тела (Y не трогается,
	// им управляет гравитация)
	SetVelocity(handle uint64, v vec.Vec3)

	// Jump придаёт телу вертикальный импульс, если оно стоит на опоре
	Jump(handle uint64, speed float32)

	// SetPosition телепортирует тело, сбрасывая его скорость
	SetPosition(handle uint64, pos vec.Vec3)

	// Body возвращает копию состояния тела
	Body(handle uint64) (Body, bool)

	// Step продвигает все тела на фиксированный dt
	Step(dt float32) error
}
