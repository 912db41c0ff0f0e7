// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// MinBodyLength задаёт минимальную длину текста обращения и ответа в тикете.
const MinBodyLength = 10

// IsValidSubject проверяет, что тема тикета не пуста после обрезки пробелов.
func IsValidSubject(subject string) bool {
	return strings.TrimSpace(subject) != ""
}

// IsValidBody проверяет текст обращения: не пустой и не короче MinBodyLength.
func IsValidBody(body string) bool {
	return len(strings.TrimSpace(body)) >= MinBodyLength
}

// IsValidEmail выполняет минимальную проверку формата email: непустая
// локальная часть и домен, ровно один знак @.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") {
		return false
	}
	domain := email[at+1:]
	return domain != "" && !strings.ContainsAny(email, " \t")
}
