package deployment

import (
	"encoding/json"
	"fmt"

	"github.com/mendersoftware/mender-sub000/pkg/runner"
)

// StateDataVersion is the current on-disk schema version for StateData.
// Bump this whenever the shape of StateData changes; loaders upgrade older
// blobs to this version in memory before the machine ever sees them.
const StateDataVersion = 2

// Phase names the deployment state machine's save-states, persisted as the
// StateData.Name field. Each constant's string value is the token written to
// the DB.
type Phase string

const (
	PhaseDownload                     Phase = "Download"
	PhaseArtifactInstall              Phase = "ArtifactInstall"
	PhaseArtifactReboot               Phase = "ArtifactReboot"
	PhaseArtifactVerifyReboot         Phase = "ArtifactVerifyReboot"
	PhaseUpdateAfterFirstCommit       Phase = "UpdateAfterFirstCommit"
	PhaseArtifactCommit               Phase = "ArtifactCommit"
	PhaseArtifactRollback             Phase = "ArtifactRollback"
	PhaseArtifactRollbackReboot       Phase = "ArtifactRollbackReboot"
	PhaseArtifactVerifyRollbackReboot Phase = "ArtifactVerifyRollbackReboot"
	PhaseVerifyRollbackReboot         Phase = "VerifyRollbackReboot"
	PhaseArtifactFailure              Phase = "ArtifactFailure"
	PhaseCleanup                      Phase = "Cleanup"
)

// SupportsRollback and RebootRequested are the module protocol's answer
// types, defined in pkg/runner (the package that actually invokes the
// module and parses its stdout); StateData just persists them.
type SupportsRollback = runner.SupportsRollback

const (
	RollbackSupportUnknown = runner.RollbackSupportUnknown
	RollbackNotSupported   = runner.RollbackNotSupported
	RollbackSupported      = runner.RollbackSupported
)

type RebootRequested = runner.RebootRequested

const (
	RebootNo        = runner.RebootNo
	RebootYes       = runner.RebootYes
	RebootAutomatic = runner.RebootAutomatic
)

// Artifact is the subset of an artifact header the deployment machine needs;
// tar-parsing and signature verification live outside the core (see
// pkg/artifact).
type Artifact struct {
	Source struct {
		URI string `json:"uri"`
	} `json:"source"`
	ArtifactName           string            `json:"artifact_name"`
	ArtifactGroup          string            `json:"artifact_group,omitempty"`
	PayloadTypes           []string          `json:"payload_types"`
	TypeInfoProvides       map[string]string `json:"type_info_provides,omitempty"`
	ClearsArtifactProvides []string          `json:"clears_artifact_provides,omitempty"`
}

// UpdateInfo is the server-assigned deployment context tracked across the
// whole lifecycle.
type UpdateInfo struct {
	ID                     string            `json:"id"`
	Artifact               Artifact          `json:"artifact"`
	RebootRequested        []RebootRequested `json:"reboot_requested"`
	SupportsRollback       SupportsRollback  `json:"supports_rollback"`
	AllRollbacksSuccessful bool              `json:"all_rollbacks_successful"`
	HasDBSchemaUpdate      bool              `json:"has_db_schema_update"`
}

// RebootRequestedFor returns the reboot policy for payload n.
func (u *UpdateInfo) RebootRequestedFor(n int) (RebootRequested, error) {
	if n >= len(u.RebootRequested) {
		return RebootNo, fmt.Errorf("reboot information missing for payload %d", n)
	}
	return u.RebootRequested[n], nil
}

// StateData is the authoritative, persisted record of an in-flight
// deployment (SPEC_FULL.md §3 / spec §3).
type StateData struct {
	Version    int        `json:"version"`
	Name       Phase      `json:"name"`
	UpdateInfo UpdateInfo `json:"update_info"`
}

// Marshal encodes the state data for storage.
func (d *StateData) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalStateData decodes a persisted blob, upgrading a v1-shaped record
// (version absent or 1) to the current schema. Per SPEC_FULL.md Open
// Question #1, a v1 blob used a single coarse "ArtifactCommit_Enter"-style
// name; we map any recognized legacy name onto the nearest v2 phase so
// resume logic has a defined phase to dispatch on.
func UnmarshalStateData(data []byte) (*StateData, error) {
	var raw struct {
		Version    int             `json:"version"`
		Name       string          `json:"name"`
		UpdateInfo json.RawMessage `json:"update_info"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state data: %w", err)
	}

	sd := &StateData{
		Version: raw.Version,
		Name:    Phase(raw.Name),
	}
	if len(raw.UpdateInfo) > 0 {
		if err := json.Unmarshal(raw.UpdateInfo, &sd.UpdateInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal update info: %w", err)
		}
	}

	if sd.Version == 0 || sd.Version == 1 {
		sd.Name = upgradeLegacyPhase(sd.Name)
		sd.Version = StateDataVersion
	}

	return sd, nil
}

// legacyPhaseAliases maps v1 state-data names onto their nearest v2 phase.
var legacyPhaseAliases = map[Phase]Phase{
	"ArtifactCommit_Enter": PhaseArtifactCommit,
	"ArtifactInstall_Enter": PhaseArtifactInstall,
	"ArtifactRollback_Enter": PhaseArtifactRollback,
}

func upgradeLegacyPhase(name Phase) Phase {
	if upgraded, ok := legacyPhaseAliases[name]; ok {
		return upgraded
	}
	return name
}
