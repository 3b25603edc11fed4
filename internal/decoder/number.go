package decoder

import "strconv"

// Exact powers of ten representable in float64. Multiplying or dividing by
// one of these is exactly rounded, which keeps the fast path bit-identical
// with strconv.ParseFloat for the mantissa sizes this wire format uses.
var pow10 = [...]float64{
	1e0, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9, 1e10,
	1e11, 1e12, 1e13, 1e14, 1e15, 1e16, 1e17, 1e18, 1e19, 1e20, 1e21, 1e22,
}

// parseFloat decodes a JSON number from b without allocating in the common
// case. Falls back to strconv for mantissas or exponents outside the
// exactly-rounded range.
func parseFloat(b []byte) (float64, error) {
	i := 0
	neg := false
	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		neg = b[i] == '-'
		i++
	}

	var mant uint64
	digits := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		mant = mant*10 + uint64(b[i]-'0')
		digits++
		i++
	}
	if digits == 0 {
		return 0, strconv.ErrSyntax
	}

	frac := 0
	if i < len(b) && b[i] == '.' {
		i++
		start := i
		for i < len(b) && b[i] >= '0' && b[i] <= '9' {
			mant = mant*10 + uint64(b[i]-'0')
			i++
		}
		frac = i - start
		if frac == 0 {
			return 0, strconv.ErrSyntax
		}
		digits += frac
	}

	exp := 0
	if i < len(b) && (b[i] == 'e' || b[i] == 'E') {
		i++
		expNeg := false
		if i < len(b) && (b[i] == '-' || b[i] == '+') {
			expNeg = b[i] == '-'
			i++
		}
		start := i
		for i < len(b) && b[i] >= '0' && b[i] <= '9' {
			exp = exp*10 + int(b[i]-'0')
			if exp > 400 {
				return strconv.ParseFloat(string(b), 64)
			}
			i++
		}
		if i == start {
			return 0, strconv.ErrSyntax
		}
		if expNeg {
			exp = -exp
		}
	}
	if i != len(b) {
		return 0, strconv.ErrSyntax
	}

	exp -= frac

	// Fast path: mantissa fits exactly in a float64 and the power of ten is
	// exact, so one multiply or divide gives the correctly rounded result.
	if digits <= 15 && exp >= -22 && exp <= 22 {
		f := float64(mant)
		if exp < 0 {
			f /= pow10[-exp]
		} else {
			f *= pow10[exp]
		}
		if neg {
			f = -f
		}
		return f, nil
	}

	return strconv.ParseFloat(string(b), 64)
}

// parseInt decodes a JSON integer from b.
func parseInt(b []byte) (int64, error) {
	i := 0
	neg := false
	if i < len(b) && b[i] == '-' {
		neg = true
		i++
	}
	if i == len(b) {
		return 0, strconv.ErrSyntax
	}
	var v uint64
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			// Integer fields occasionally arrive in scientific notation
			// from intermediaries; take the slow road.
			f, err := parseFloat(b)
			if err != nil {
				return 0, err
			}
			return int64(f), nil
		}
		if v > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}
		v = v*10 + uint64(c-'0')
	}
	if neg {
		return -int64(v), nil
	}
	if v > 1<<63-1 {
		return 0, strconv.ErrRange
	}
	return int64(v), nil
}
