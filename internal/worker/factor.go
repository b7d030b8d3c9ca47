package worker

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"
)

// ErrInvalidTarget the target is not a positive decimal integer.
var ErrInvalidTarget = errors.New("target must be a positive decimal integer")

// ctxCheckEvery is how many rho iterations run between context checks.
const ctxCheckEvery = 1024

var (
	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
)

// smallPrimes are stripped by trial division before rho starts.
var smallPrimes = []int64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47}

// FactorizeString factors a decimal target and returns its prime factors,
// ascending and comma-joined. The target 1 yields "1".
func FactorizeString(ctx context.Context, target string) (string, error) {
	n, ok := new(big.Int).SetString(target, 10)
	if !ok || n.Sign() <= 0 {
		return "", ErrInvalidTarget
	}

	factors, err := Factorize(ctx, n)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(factors))
	for i, f := range factors {
		parts[i] = f.String()
	}
	return strings.Join(parts, ","), nil
}

// Factorize returns the prime factors of n in ascending order, with
// multiplicity. It returns ctx.Err() if ctx is cancelled first.
func Factorize(ctx context.Context, n *big.Int) ([]*big.Int, error) {
	if n.Sign() <= 0 {
		return nil, ErrInvalidTarget
	}
	if n.Cmp(bigOne) == 0 {
		return []*big.Int{big.NewInt(1)}, nil
	}

	rest := new(big.Int).Set(n)
	var factors []*big.Int

	mod := new(big.Int)
	for _, sp := range smallPrimes {
		p := big.NewInt(sp)
		for {
			q, m := new(big.Int).QuoRem(rest, p, mod)
			if m.Sign() != 0 {
				break
			}
			factors = append(factors, p)
			rest = q
		}
	}

	if rest.Cmp(bigOne) != 0 {
		more, err := split(ctx, rest)
		if err != nil {
			return nil, err
		}
		factors = append(factors, more...)
	}

	sort.Slice(factors, func(i, j int) bool { return factors[i].Cmp(factors[j]) < 0 })
	return factors, nil
}

// split recursively breaks n (> 1, free of small primes) into primes.
func split(ctx context.Context, n *big.Int) ([]*big.Int, error) {
	if n.ProbablyPrime(20) {
		return []*big.Int{new(big.Int).Set(n)}, nil
	}

	d, err := rho(ctx, n)
	if err != nil {
		return nil, err
	}
	left, err := split(ctx, d)
	if err != nil {
		return nil, err
	}
	right, err := split(ctx, new(big.Int).Quo(n, d))
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// rho finds a non-trivial divisor of the composite n using Pollard's rho
// with Floyd cycle detection, retrying with a new polynomial constant when
// a round degenerates to n.
func rho(ctx context.Context, n *big.Int) (*big.Int, error) {
	x := new(big.Int)
	y := new(big.Int)
	d := new(big.Int)
	diff := new(big.Int)

	for c := int64(1); ; c++ {
		x.Set(bigTwo)
		y.Set(bigTwo)
		d.Set(bigOne)
		cc := big.NewInt(c)
		step := func(v *big.Int) {
			v.Mul(v, v)
			v.Add(v, cc)
			v.Mod(v, n)
		}

		for i := 0; d.Cmp(bigOne) == 0; i++ {
			if i%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			step(x)
			step(y)
			step(y)
			diff.Sub(x, y)
			diff.Abs(diff)
			d.GCD(nil, nil, diff, n)
		}
		if d.Cmp(n) != 0 {
			return new(big.Int).Set(d), nil
		}
	}
}
