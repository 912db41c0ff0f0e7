// Package repository содержит реализации доступа к хранилищу данных:
// PostgreSQL для управляемой инсталляции и встроенное хранилище BoltDB.
package repository

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// ErrUserExists возвращается при попытке создать пользователя с уже занятым email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrTicketNotFound возвращается, если тикет не найден.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketTerminal возвращается при попытке ответа в resolved или closed тикет.
	ErrTicketTerminal = errors.New("ticket is resolved or closed")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrStoreNotProvisioned возвращается, если таблицы хранилища не созданы.
	// Текст ошибки адресован оператору сервиса.
	ErrStoreNotProvisioned = errors.New("storage tables are not provisioned, run the service against an initialized store")
)

// NewID генерирует идентификатор строки хранилища: 16 случайных байт в hex.
func NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand на поддерживаемых платформах не возвращает ошибок
		panic(err)
	}
	return hex.EncodeToString(buf)
}
