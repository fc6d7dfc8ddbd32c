package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// cborEncMode is the canonical encoding mode, for deterministic output.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ID returns the run identifier as a UUID.
func (r *RunReport) ID() uuid.UUID {
	return uuid.UUID(r.RunID)
}

// MarshalRunReport serializes a RunReport to CBOR bytes.
func MarshalRunReport(r *RunReport) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalRunReport deserializes a RunReport from CBOR bytes.
func UnmarshalRunReport(data []byte) (*RunReport, error) {
	var r RunReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("dist: unmarshal run report: %w", err)
	}
	return &r, nil
}

// MarshalTrapReport serializes a TrapReport to CBOR bytes.
func MarshalTrapReport(t *TrapReport) ([]byte, error) {
	return cborEncMode.Marshal(t)
}

// UnmarshalTrapReport deserializes a TrapReport from CBOR bytes.
func UnmarshalTrapReport(data []byte) (*TrapReport, error) {
	var t TrapReport
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("dist: unmarshal trap report: %w", err)
	}
	return &t, nil
}

// MarshalManifest serializes a ProgramManifest to CBOR bytes.
func MarshalManifest(m *ProgramManifest) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalManifest deserializes a ProgramManifest from CBOR bytes.
func UnmarshalManifest(data []byte) (*ProgramManifest, error) {
	var m ProgramManifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dist: unmarshal manifest: %w", err)
	}
	return &m, nil
}

// MarshalValue serializes a single WireValue to CBOR bytes.
func MarshalValue(v WireValue) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// UnmarshalValue deserializes a WireValue from CBOR bytes.
func UnmarshalValue(data []byte) (WireValue, error) {
	var v WireValue
	if err := cbor.Unmarshal(data, &v); err != nil {
		return WireValue{}, fmt.Errorf("dist: unmarshal value: %w", err)
	}
	return v, nil
}
