package client

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// etherDecimals is the number of decimal places in one ether.
const etherDecimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)

// ParseEther converts a decimal ether string ("0.5", "1", "0.000000000000000001")
// to an exact wei amount. Conversion is lossless string arithmetic; values
// with more than 18 fractional digits are rejected rather than rounded.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("client: %w: empty amount", domain.ErrAmountOutOfBounds)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("client: %w: negative amount %q", domain.ErrAmountOutOfBounds, s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("client: %w: %q has more than %d decimal places", domain.ErrAmountOutOfBounds, s, etherDecimals)
	}

	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("client: %w: invalid amount %q", domain.ErrAmountOutOfBounds, s)
	}

	wei := new(big.Int).Mul(wholeInt, weiPerEther)
	if frac != "" {
		// Right-pad the fraction to 18 digits so "5" means 0.5 ether.
		fracInt, ok := new(big.Int).SetString(frac+strings.Repeat("0", etherDecimals-len(frac)), 10)
		if !ok {
			return nil, fmt.Errorf("client: %w: invalid amount %q", domain.ErrAmountOutOfBounds, s)
		}
		wei.Add(wei, fracInt)
	}
	return wei, nil
}

// FormatEther renders a wei amount as a decimal ether string with trailing
// zeros trimmed.
func FormatEther(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}

	quo, rem := new(big.Int).QuoRem(wei, weiPerEther, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}

	frac := strings.TrimRight(fmt.Sprintf("%018s", rem.String()), "0")
	return quo.String() + "." + frac
}
