package capability

import "errors"

// ErrNotFound is returned by ObjectStore.Head and KVStore getters when the
// requested key/entity does not exist.
var ErrNotFound = errors.New("capability: not found")

// ErrVersionConflict is returned by KVStore.PutJob/PutArtifact when the
// caller's compare-and-set version does not match the stored version (§5).
var ErrVersionConflict = errors.New("capability: version conflict")
