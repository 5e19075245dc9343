package service

import "strings"

const bearerPrefix = "bearer "

// NormalizeToken quita espacios y un prefijo "Bearer " opcional.
// Devuelve "" cuando no hay credencial.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if len(token) >= len(bearerPrefix) && strings.EqualFold(token[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(token[len(bearerPrefix):])
	}
	return token
}
