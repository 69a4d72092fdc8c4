package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrUnknownToken   = errors.New("unknown token")
)

// DefaultCacheTTL is how long a successful resolution skips bcrypt.
const DefaultCacheTTL = time.Minute

// Tokens resolves bearer tokens of the form "<callerID>.<secret>" into
// callers. Caller IDs and secrets may both contain dots. Only bcrypt hashes
// of secrets are kept; successful resolutions are cached by token digest.
type Tokens struct {
	mu      sync.RWMutex
	entries map[string]tokenEntry

	cache cmap.ConcurrentMap[string, resolved]
	ttl   time.Duration
	now   func() time.Time
}

type tokenEntry struct {
	caller appmanager.Caller
	hash   []byte
}

type resolved struct {
	caller  appmanager.Caller
	expires time.Time
}

// TokensOption configures a token store.
type TokensOption func(*Tokens)

// WithCacheTTL sets how long resolutions are cached. Zero or less disables
// the cache.
func WithCacheTTL(d time.Duration) TokensOption {
	return func(t *Tokens) { t.ttl = d }
}

// NewTokens creates an empty store.
func NewTokens(opts ...TokensOption) *Tokens {
	t := &Tokens{
		entries: make(map[string]tokenEntry),
		cache:   cmap.New[resolved](),
		ttl:     DefaultCacheTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers caller with an already hashed secret. Cached resolutions
// are dropped so a replaced secret stops working at once.
func (t *Tokens) Add(caller appmanager.Caller, secretHash string) {
	t.mu.Lock()
	t.entries[caller.ID] = tokenEntry{caller: caller, hash: []byte(secretHash)}
	t.mu.Unlock()
	t.cache.Clear()
}

// AddSecret hashes secret with cost and registers caller. It returns the
// bearer token to hand to the caller.
func (t *Tokens) AddSecret(caller appmanager.Caller, secret string, cost int) (string, error) {
	hash, err := HashSecret(secret, cost)
	if err != nil {
		return "", err
	}
	t.Add(caller, hash)
	return caller.ID + "." + secret, nil
}

// Resolve returns the caller owning token. Every dot is a candidate split
// point; each prefix naming a registered caller is tried against its hash.
func (t *Tokens) Resolve(token string) (appmanager.Caller, error) {
	if !strings.Contains(token, ".") || strings.HasPrefix(token, ".") || strings.HasSuffix(token, ".") {
		return appmanager.Caller{}, ErrMalformedToken
	}

	key := digest(token)
	if hit, ok := t.cache.Get(key); ok {
		if t.now().Before(hit.expires) {
			return hit.caller, nil
		}
		t.cache.Remove(key)
	}

	for _, c := range t.candidates(token) {
		if bcrypt.CompareHashAndPassword(c.entry.hash, []byte(c.secret)) != nil {
			continue
		}
		if t.ttl > 0 {
			t.cache.Set(key, resolved{caller: c.entry.caller, expires: t.now().Add(t.ttl)})
		}
		return c.entry.caller, nil
	}
	return appmanager.Caller{}, ErrUnknownToken
}

type candidate struct {
	entry  tokenEntry
	secret string
}

func (t *Tokens) candidates(token string) []candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []candidate
	for i := 0; i < len(token); i++ {
		if token[i] != '.' || i == 0 || i == len(token)-1 {
			continue
		}
		if entry, ok := t.entries[token[:i]]; ok {
			out = append(out, candidate{entry: entry, secret: token[i+1:]})
		}
	}
	return out
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Len returns the number of registered callers.
func (t *Tokens) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// HashSecret hashes secret for storage in a host profile.
func HashSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
