package runner

import (
	"fmt"
	"os"
	"path/filepath"
)

// workDirVersion is written to the work-dir's "version" file; it identifies
// the update-module ABI generation (SPEC_FULL.md §4.D).
const workDirVersion = "3"

// Header is the subset of artifact header fields the runner writes into the
// module's work directory.
type Header struct {
	ArtifactName  string
	ArtifactGroup string
	PayloadType   string
	HeaderInfo    []byte
	TypeInfo      []byte
	MetaData      []byte
}

// PrepareWorkDir lays out the directory structure the update-module ABI
// expects, exactly matching SPEC_FULL.md §4.D:
//
//	work-dir/
//	  version
//	  current_artifact_name
//	  current_artifact_group
//	  current_device_type
//	  header/
//	  stream-next     (created lazily by the FIFO protocol)
//	  streams/<name>  (created lazily, one per payload)
//	  files/<name>    (created only for the no-FIFO fallback)
func PrepareWorkDir(workDir string, currentArtifactName, currentArtifactGroup, currentDeviceType string, header Header) error {
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	files := map[string]string{
		"version":                workDirVersion,
		"current_artifact_name":  currentArtifactName,
		"current_artifact_group": currentArtifactGroup,
		"current_device_type":    currentDeviceType,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(workDir, name), []byte(content+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	headerDir := filepath.Join(workDir, "header")
	if err := os.MkdirAll(headerDir, 0700); err != nil {
		return fmt.Errorf("failed to create header dir: %w", err)
	}
	headerFiles := map[string]string{
		"artifact_name": header.ArtifactName,
		"artifact_group": header.ArtifactGroup,
		"payload_type":  header.PayloadType,
	}
	for name, content := range headerFiles {
		if err := os.WriteFile(filepath.Join(headerDir, name), []byte(content+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write header/%s: %w", name, err)
		}
	}
	headerBlobs := map[string][]byte{
		"header-info": header.HeaderInfo,
		"type-info":   header.TypeInfo,
		"meta-data":   header.MetaData,
	}
	for name, content := range headerBlobs {
		if err := os.WriteFile(filepath.Join(headerDir, name), content, 0600); err != nil {
			return fmt.Errorf("failed to write header/%s: %w", name, err)
		}
	}

	if err := os.MkdirAll(filepath.Join(workDir, "streams"), 0700); err != nil {
		return fmt.Errorf("failed to create streams dir: %w", err)
	}

	return nil
}

// CleanWorkDir removes the deployment-scoped work directory. The deployment
// machine's Cleanup phase does not call it; the daemon removes and recreates
// its work directory before each new deployment.
func CleanWorkDir(workDir string) error {
	return os.RemoveAll(workDir)
}
