package util

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// Code generation strategies.
const (
	StrategyRandom   = "random"
	StrategyHash     = "hash"
	StrategySequence = "sequence"
)

// SequenceFunc draws the next value of a monotonic sequence.
type SequenceFunc func(ctx context.Context) (int64, error)

// CodeGenerator produces candidate short codes for one of the configured strategies.
type CodeGenerator struct {
	strategy string
	length   int
	next     SequenceFunc
	random   func(length int) (string, error)
}

// NewCodeGenerator returns a generator for strategy. next is only used by the
// sequence strategy and may be nil otherwise.
func NewCodeGenerator(strategy string, length int, next SequenceFunc) (*CodeGenerator, error) {
	if length <= 0 {
		return nil, ErrInvalidLength
	}
	switch strategy {
	case StrategyRandom, StrategyHash:
	case StrategySequence:
		if next == nil {
			return nil, fmt.Errorf("sequence strategy needs a sequence source")
		}
	default:
		return nil, fmt.Errorf("unknown short code strategy %q", strategy)
	}
	return &CodeGenerator{strategy: strategy, length: length, next: next, random: Generate}, nil
}

func (g *CodeGenerator) Strategy() string {
	return g.strategy
}

// Code returns the candidate for the given zero-based attempt at shortening url.
// The hash strategy only uses the content digest on the first attempt; a
// collision there means another URL owns that code, so later attempts are random.
func (g *CodeGenerator) Code(ctx context.Context, url string, attempt int) (string, error) {
	switch g.strategy {
	case StrategyHash:
		if attempt == 0 {
			return DeterministicCode(url, g.length)
		}
		return g.random(g.length)
	case StrategySequence:
		n, err := g.next(ctx)
		if err != nil {
			return "", fmt.Errorf("next sequence value: %w", err)
		}
		code, err := EncodeSequential(big.NewInt(n))
		if err != nil {
			return "", err
		}
		if pad := g.length - len(code); pad > 0 {
			code = strings.Repeat("0", pad) + code
		}
		return code, nil
	default:
		return g.random(g.length)
	}
}
