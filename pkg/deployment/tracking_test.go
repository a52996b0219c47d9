package deployment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackingHappyPath(t *testing.T) {
	tr := NewTracking()
	tr.DeploymentStarted()
	require.False(t, tr.Failed())

	tr.DeploymentEnded()
	require.Equal(t, TrackingIdle, tr.State())
}

func TestTrackingFailureThenRollback(t *testing.T) {
	tr := NewTracking()
	tr.DeploymentStarted()
	tr.Failure()
	require.True(t, tr.Failed())
	require.False(t, tr.RollbackFailed())

	tr.RollbackStarted()
	require.Equal(t, TrackingRollbackAttempted, tr.State())
}

func TestTrackingRollbackFailed(t *testing.T) {
	tr := NewTracking()
	tr.DeploymentStarted()
	tr.Failure()
	tr.RollbackStarted()
	tr.Failure()
	require.True(t, tr.RollbackFailed())
	require.True(t, tr.Failed())
}

func TestTrackingResetsOnDeploymentEnded(t *testing.T) {
	tr := NewTracking()
	tr.DeploymentStarted()
	tr.Failure()
	tr.DeploymentEnded()
	require.Equal(t, TrackingIdle, tr.State())
	require.False(t, tr.Failed())
}
