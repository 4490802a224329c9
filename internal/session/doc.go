// Package session - хранилище клиентской сессии дашборда.
//
// Store владеет токеном, пользователем, сроком жизни и временем последней
// активности, а также тремя таймерами: idle (блокировка экрана),
// session (принудительный выход по TTL) и периодической ревалидацией.
// Изменения сессии рассылаются другим вкладкам через Channel.
//
// Сигналы для хоста:
//   - locked  (idle-timeout)    - сессия заблокирована, но не уничтожена
//   - expired (session-expired) - сессия очищена, нужен повторный вход
//   - redirect (remote-logout)  - другая вкладка вышла из системы
package session
