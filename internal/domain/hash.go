package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeContent converts CRLF to LF and strips trailing whitespace from every line.
func NormalizeContent(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// ContentHash is the hex SHA-256 of the normalized text. It keys the embedding cache.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(text)))
	return hex.EncodeToString(sum[:])
}
