package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
)

// inconsistentSuffix marks a device whose rollback itself failed; the
// server must no longer consider it bootable to a known-good state.
const inconsistentSuffix = "_INCONSISTENT"

const (
	keyProvidesName  = "artifact-name"
	keyProvidesGroup = "artifact-group"
	keyProvidesMap   = "provides-map"
)

// Provides is the currently-installed-artifact record: its name, optional
// group, and the union of provides keys it has committed.
type Provides struct {
	ArtifactName  string
	ArtifactGroup string
	Map           map[string]string
}

// ReadProvides loads the current Provides record. A store with no record
// yet (first boot) returns a zero-value Provides and no error.
func ReadProvides(s KVStore) (Provides, error) {
	p := Provides{Map: map[string]string{}}

	name, err := s.Read(keyProvidesName)
	if err == nil {
		p.ArtifactName = string(name)
	} else if !isNotFound(err) {
		return p, err
	}

	group, err := s.Read(keyProvidesGroup)
	if err == nil {
		p.ArtifactGroup = string(group)
	} else if !isNotFound(err) {
		return p, err
	}

	raw, err := s.Read(keyProvidesMap)
	if err == nil {
		if err := json.Unmarshal(raw, &p.Map); err != nil {
			return p, fmt.Errorf("failed to unmarshal provides map: %w", err)
		}
	} else if !isNotFound(err) {
		return p, err
	}

	return p, nil
}

// CommitProvides atomically rewrites name and group, unions newProvides into
// the map after removing any key matching a clearsProvides wildcard pattern,
// and clears the StateData record. This is the SaveProvides phase's
// successful path (spec §3/§4.F).
func CommitProvides(s KVStore, artifactName, artifactGroup string, newProvides map[string]string, clearsProvides []string) error {
	return s.WithTransaction(func(txn Txn) error {
		current := map[string]string{}
		if raw, err := txn.Read(keyProvidesMap); err == nil {
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("failed to unmarshal provides map: %w", err)
			}
		} else if !isNotFound(err) {
			return err
		}

		for k := range current {
			if matchesAny(k, clearsProvides) {
				delete(current, k)
			}
		}
		for k, v := range newProvides {
			current[k] = v
		}

		encoded, err := json.Marshal(current)
		if err != nil {
			return err
		}

		if err := txn.Write(keyProvidesName, []byte(artifactName)); err != nil {
			return err
		}
		if err := txn.Write(keyProvidesGroup, []byte(artifactGroup)); err != nil {
			return err
		}
		if err := txn.Write(keyProvidesMap, encoded); err != nil {
			return err
		}
		if err := txn.Remove(keyStateData); err != nil {
			return err
		}
		return txn.Remove(keyWriteCounter)
	})
}

// MarkInconsistent appends the inconsistent suffix to the recorded artifact
// name, leaving group and provides map untouched, and clears StateData. Used
// by the StateLoop absorbing state and by a failed rollback.
func MarkInconsistent(s KVStore) error {
	return s.WithTransaction(func(txn Txn) error {
		name, err := txn.Read(keyProvidesName)
		if err != nil && !isNotFound(err) {
			return err
		}
		newName := string(name)
		if !strings.HasSuffix(newName, inconsistentSuffix) {
			newName += inconsistentSuffix
		}
		if err := txn.Write(keyProvidesName, []byte(newName)); err != nil {
			return err
		}
		if err := txn.Remove(keyStateData); err != nil {
			return err
		}
		return txn.Remove(keyWriteCounter)
	})
}

// matchesAny reports whether key matches any of the clears patterns, where
// '*' inside a pattern matches any run of characters other than '/'
// (filepath.Match semantics).
func matchesAny(key string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, key); err == nil && ok {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, errkind.ErrKeyNotFound)
}
