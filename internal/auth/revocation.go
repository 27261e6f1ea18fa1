package auth

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// RevocationSet holds token identifiers that must be rejected even if
// they otherwise verify, loaded once from a flat file named by
// REVOKED_TOKENS. An empty path means nothing is revoked.
type RevocationSet struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// LoadRevocationSet reads one token per line from path. A missing or
// empty path yields an empty set rather than an error.
func LoadRevocationSet(path string) (*RevocationSet, error) {
	rs := &RevocationSet{tokens: make(map[string]struct{})}
	if path == "" {
		return rs, nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return rs, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rs.tokens[line] = struct{}{}
	}
	return rs, scanner.Err()
}

// Revoked reports whether token (or jti) has been revoked.
func (rs *RevocationSet) Revoked(token string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.tokens[token]
	return ok
}

// Add marks a token as revoked at runtime, without touching the backing
// file.
func (rs *RevocationSet) Add(token string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.tokens[token] = struct{}{}
}
