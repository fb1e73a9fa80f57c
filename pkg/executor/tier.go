package executor

import (
	"strconv"
	"strings"

	"github.com/screwdriver-cd/executor-k8s/pkg/config"
)

// Tier is a named resource-sizing preset.
type Tier string

const (
	TierMicro Tier = "MICRO"
	TierLow   Tier = "LOW"
	TierHigh  Tier = "HIGH"
	TierTurbo Tier = "TURBO"
	TierMax   Tier = "MAX"
)

type tierValueKind int

const (
	tierAbsent tierValueKind = iota
	tierSymbolic
	tierInteger
	tierInvalid
)

// TierValue is the typed form of one tier-like annotation: a symbolic tier,
// a positive integer, absent, or invalid.
type TierValue struct {
	kind   tierValueKind
	tier   Tier
	number int64
}

// ParseTierValue classifies a raw annotation string.
func ParseTierValue(raw string, present bool) TierValue {
	if !present {
		return TierValue{kind: tierAbsent}
	}
	switch Tier(strings.ToUpper(strings.TrimSpace(raw))) {
	case TierMicro:
		return TierValue{kind: tierSymbolic, tier: TierMicro}
	case TierLow:
		return TierValue{kind: tierSymbolic, tier: TierLow}
	case TierHigh:
		return TierValue{kind: tierSymbolic, tier: TierHigh}
	case TierTurbo:
		return TierValue{kind: tierSymbolic, tier: TierTurbo}
	case TierMax:
		return TierValue{kind: tierSymbolic, tier: TierMax}
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && n > 0 {
		return TierValue{kind: tierInteger, number: n}
	}
	return TierValue{kind: tierInvalid}
}

// TierResolver maps tier annotations to concrete CPU/memory quantities,
// clamped to the configured ceilings.
type TierResolver struct {
	cpu    config.TierLimits
	memory config.TierLimits
	logger Logger
}

// NewTierResolver builds a resolver over one pair of tier tables.
func NewTierResolver(cpu, memory config.TierLimits, logger Logger) *TierResolver {
	return &TierResolver{cpu: cpu, memory: memory, logger: logger}
}

// CPU resolves a cpu annotation into millicores.
func (r *TierResolver) CPU(raw string, present bool) int64 {
	return int64(r.resolve(r.cpu, AnnotationCPU, raw, present) * 1000)
}

// Memory resolves a ram annotation into GB.
func (r *TierResolver) Memory(raw string, present bool) float64 {
	return r.resolve(r.memory, AnnotationRAM, raw, present)
}

// Unrecognized values fall back to LOW for compatibility with existing
// pipelines; the warning is the only trace a misconfiguration leaves.
func (r *TierResolver) resolve(limits config.TierLimits, dimension, raw string, present bool) float64 {
	v := ParseTierValue(raw, present)
	switch v.kind {
	case tierAbsent:
		return limits.Low
	case tierInteger:
		return min(float64(v.number), limits.Max)
	case tierSymbolic:
		switch v.tier {
		case TierMicro:
			return limits.Micro
		case TierLow:
			return limits.Low
		case TierHigh:
			return limits.High
		case TierTurbo:
			return limits.Turbo
		case TierMax:
			return limits.Max
		}
	}
	r.logger.Warn("unrecognized tier annotation, falling back to LOW", "dimension", dimension, "value", raw)
	return limits.Low
}
