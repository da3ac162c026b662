package relay

import "fmt"

type ReliefMode uint8

const (
	ReliefDivide ReliefMode = iota + 1
	ReliefModuloProduct
)

func (m ReliefMode) String() string {
	switch m {
	case ReliefDivide:
		return "divide"
	case ReliefModuloProduct:
		return "modulo_product"
	default:
		return "unknown"
	}
}

// Relief bounds a freshly transformed worry level before it is routed.
//
// A ModuloProduct relief only becomes usable once New has captured the
// product of every agent's divisor; the zero modulus of a detached value
// leaves levels untouched, as does a zero Denominator.
type Relief struct {
	Mode        ReliefMode
	Denominator uint64

	modulus uint64
}

// Divide returns a relief that floor-divides every level by c.
// A zero c is rejected by New.
func Divide(c uint64) Relief { return Relief{Mode: ReliefDivide, Denominator: c} }

// ModuloProduct returns a relief that reduces levels modulo the product of
// all agent divisors.
func ModuloProduct() Relief { return Relief{Mode: ReliefModuloProduct} }

func (r Relief) Apply(v uint64) uint64 {
	switch r.Mode {
	case ReliefDivide:
		if r.Denominator == 0 {
			return v
		}
		return v / r.Denominator
	case ReliefModuloProduct:
		if r.modulus == 0 {
			return v
		}
		return v % r.modulus
	default:
		return v
	}
}

// Modulus is the captured divisor product, or zero for Divide.
func (r Relief) Modulus() uint64 { return r.modulus }

func (r Relief) String() string {
	switch r.Mode {
	case ReliefDivide:
		return fmt.Sprintf("divide(%d)", r.Denominator)
	case ReliefModuloProduct:
		return fmt.Sprintf("modulo_product(%d)", r.modulus)
	default:
		return r.Mode.String()
	}
}

// bind validates r against the agent divisors and captures the modulus.
func (r Relief) bind(divisors []uint64) (Relief, error) {
	switch r.Mode {
	case ReliefDivide:
		if r.Denominator == 0 {
			return r, fmt.Errorf("%w: relief denominator is zero", ErrConfiguration)
		}
		r.modulus = 0
		return r, nil
	case ReliefModuloProduct:
		m := uint64(1)
		for _, d := range divisors {
			next := saturatingMul(m, d)
			if next/d != m {
				return r, fmt.Errorf("%w: divisor product overflows uint64", ErrConfiguration)
			}
			m = next
		}
		r.modulus = m
		return r, nil
	default:
		return r, fmt.Errorf("%w: unknown relief mode %d", ErrConfiguration, r.Mode)
	}
}
