package swap

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/lntypes"
)

// PrefixLog prefixes every message with the short swap hash and our side of
// the swap, so that concurrent swaps can be told apart in a shared log.
type PrefixLog struct {
	// Logger is the logger messages are written to.
	Logger btclog.Logger

	// Hash identifies the swap.
	Hash lntypes.Hash

	// Side is our side of the swap.
	Side Side
}

func (s *PrefixLog) prefix(format string) string {
	return "[" + ShortHash(&s.Hash) + " " + s.Side.String() + "] " + format
}

// Debugf writes a prefixed message at debug level.
func (s *PrefixLog) Debugf(format string, params ...interface{}) {
	s.Logger.Debugf(s.prefix(format), params...)
}

// Infof writes a prefixed message at info level.
func (s *PrefixLog) Infof(format string, params ...interface{}) {
	s.Logger.Infof(s.prefix(format), params...)
}

// Warnf writes a prefixed message at warn level.
func (s *PrefixLog) Warnf(format string, params ...interface{}) {
	s.Logger.Warnf(s.prefix(format), params...)
}

// Errorf writes a prefixed message at error level.
func (s *PrefixLog) Errorf(format string, params ...interface{}) {
	s.Logger.Errorf(s.prefix(format), params...)
}

// ShortHash returns the first six hex characters of a swap hash.
func ShortHash(hash *lntypes.Hash) string {
	return hash.String()[:6]
}
