package corestate

import (
	jsoniter "github.com/json-iterator/go"
)

// json is drop-in compatible with encoding/json but faster, used here
// purely for operator debugging (a Snapshot dump) and test fixtures;
// the runtime carries no persisted save/load path.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalSnapshot serializes snap for debugging or test fixtures. It
// is never invoked at startup or shutdown; the runtime holds no
// on-disk state.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// UnmarshalSnapshot is MarshalSnapshot's inverse, for loading a
// fixture captured by a prior debug dump back into a Snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	err := json.Unmarshal(data, &snap)
	return snap, err
}
