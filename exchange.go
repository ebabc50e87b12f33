package sentinel

import (
	"sync"
	"time"

	"github.com/sentinelkit/sentinel/internal"
)

// oauthExchange parks a token pair behind a one-time code so an OAuth
// callback handler can hand tokens to a browser client without putting them
// in a redirect URL. Codes live in process memory only and are removed on
// first take, successful or not.
type oauthExchange struct {
	mu    sync.Mutex
	codes map[string]exchangeEntry
	ttl   time.Duration
	clock Clock
}

type exchangeEntry struct {
	tokens    OAuthTokens
	expiresAt time.Time
}

func newOAuthExchange(cfg OAuthExchangeConfig, clock Clock) *oauthExchange {
	return &oauthExchange{
		codes: make(map[string]exchangeEntry),
		ttl:   cfg.CodeTTL,
		clock: clock,
	}
}

// Store parks tokens and returns the code to hand to the client. Expired
// entries are swept opportunistically on each store.
func (x *oauthExchange) Store(tokens OAuthTokens) (string, error) {
	code, err := internal.NewOneTimeCode()
	if err != nil {
		return "", err
	}

	now := x.clock.Now()

	x.mu.Lock()
	defer x.mu.Unlock()

	for k, entry := range x.codes {
		if !now.Before(entry.expiresAt) {
			delete(x.codes, k)
		}
	}
	x.codes[code] = exchangeEntry{
		tokens:    tokens,
		expiresAt: now.Add(x.ttl),
	}
	return code, nil
}

// Take removes and returns the entry for code. Unknown, expired, and
// already-consumed codes all report false; callers cannot tell them apart.
func (x *oauthExchange) Take(code string) (*OAuthTokens, bool) {
	now := x.clock.Now()

	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.codes[code]
	if !ok {
		return nil, false
	}
	delete(x.codes, code)

	if !now.Before(entry.expiresAt) {
		return nil, false
	}
	tokens := entry.tokens
	return &tokens, true
}
