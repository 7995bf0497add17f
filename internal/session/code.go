package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxCodeAttempts bounds the generate-and-check loop. With 36^6 codes it is
// only reached when the store itself is failing.
const maxCodeAttempts = 32

var errNoFreeCode = errors.New("no free session code")

// GenerateCode draws a join code uniformly from [A-Z0-9].
func GenerateCode() (string, error) {
	n := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, laotypo.CodeLength)
	for i := range b {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generating session code: %w", err)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}

type codeChecker interface {
	CodeInUse(ctx context.Context, code string) (bool, error)
}

// IsAvailable reports whether no waiting or active session holds code.
func IsAvailable(ctx context.Context, c codeChecker, code string) (bool, error) {
	inUse, err := c.CodeInUse(ctx, code)
	if err != nil {
		return false, err
	}
	return !inUse, nil
}

// freeCode loops generate and check until an unused code turns up.
func freeCode(ctx context.Context, c codeChecker, generate func() (string, error)) (string, error) {
	for range maxCodeAttempts {
		code, err := generate()
		if err != nil {
			return "", err
		}
		ok, err := IsAvailable(ctx, c, code)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", errNoFreeCode
}
