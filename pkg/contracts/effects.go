package contracts

// EffectCategory is the closed, top-level grouping of the side-effect
// taxonomy (§3.5).
type EffectCategory string

const (
	EffectCategoryFilesystem EffectCategory = "filesystem"
	EffectCategoryNetwork    EffectCategory = "network"
	EffectCategoryProcess    EffectCategory = "process"
)

// EffectType is one concrete, closed effect a tool invocation may produce.
type EffectType string

const (
	EffectFilesystemRead     EffectType = "filesystem.read"
	EffectFilesystemWrite    EffectType = "filesystem.write"
	EffectFilesystemDelete   EffectType = "filesystem.delete"
	EffectFilesystemMetadata EffectType = "filesystem.metadata"

	EffectNetworkEgress  EffectType = "network.egress"
	EffectNetworkDNS     EffectType = "network.dns"
	EffectNetworkIngress EffectType = "network.ingress"

	EffectProcessSpawn  EffectType = "process.spawn"
	EffectProcessKill   EffectType = "process.kill"
	EffectProcessSignal EffectType = "process.signal"
)

// Category returns the closed category an effect type belongs to.
func (e EffectType) Category() EffectCategory {
	switch e {
	case EffectFilesystemRead, EffectFilesystemWrite, EffectFilesystemDelete, EffectFilesystemMetadata:
		return EffectCategoryFilesystem
	case EffectNetworkEgress, EffectNetworkDNS, EffectNetworkIngress:
		return EffectCategoryNetwork
	case EffectProcessSpawn, EffectProcessKill, EffectProcessSignal:
		return EffectCategoryProcess
	default:
		return ""
	}
}

// Effect annotates a single observed or predicted side effect.
type Effect struct {
	Type     EffectType     `json:"type"`
	Target   string         `json:"target"` // path / host / command
	Category EffectCategory `json:"category"`
	Tool     string         `json:"tool"`
	StepID   string         `json:"step_id"`
}

// BoundaryPreset names a canned side-effect allow-set resolved by the
// effects validator (SPEC_FULL §4.14).
type BoundaryPreset string

const (
	BoundaryNone       BoundaryPreset = "none"
	BoundaryStrict     BoundaryPreset = "strict"
	BoundaryReadonly   BoundaryPreset = "readonly"
	BoundaryPermissive BoundaryPreset = "permissive"
)

// ResolveBoundary returns the set of effect types boundary allows.
// "none" allows everything (boundary checking disabled); "strict" allows
// nothing (no declared allow-list is consulted, so every classified effect
// is refused); "readonly" allows only the read-shaped effects; "permissive" allows everything except process spawn/kill.
func ResolveBoundary(preset BoundaryPreset) map[EffectType]bool {
	switch preset {
	case BoundaryReadonly:
		return map[EffectType]bool{
			EffectFilesystemRead:     true,
			EffectFilesystemMetadata: true,
			EffectNetworkEgress:      true,
			EffectNetworkDNS:         true,
		}
	case BoundaryPermissive:
		return map[EffectType]bool{
			EffectFilesystemRead: true, EffectFilesystemWrite: true,
			EffectFilesystemDelete: true, EffectFilesystemMetadata: true,
			EffectNetworkEgress: true, EffectNetworkDNS: true, EffectNetworkIngress: true,
			EffectProcessSignal: true,
		}
	case BoundaryStrict:
		return map[EffectType]bool{}
	default: // BoundaryNone and unrecognised presets: no boundary enforcement
		return nil
	}
}
