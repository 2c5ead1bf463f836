package listings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathTransitions(t *testing.T) {
	steps := []struct {
		ev   event
		want Stage
	}{
		{eventFormValidated, StageFormValid},
		{eventRpcCheckStarted, StageRpcChecking},
		{eventRpcConfirmed, StageEncrypting},
		{eventEncrypted, StagePublishingCover},
		{eventCoverPublished, StageBuildingMetadata},
		{eventMetadataBuilt, StagePublishingDirectory},
		{eventDirectoryPublished, StageRegisteringOnChain},
		{eventRegistered, StageSuccess},
	}

	stage := StageIdle
	for _, step := range steps {
		next, err := nextStage(stage, step.ev)
		require.NoError(t, err)
		assert.Equal(t, step.want, next)
		stage = next
	}
}

func TestPasteWaitDetours(t *testing.T) {
	next, err := nextStage(StagePublishingCover, eventCoverHandedOff)
	require.NoError(t, err)
	assert.Equal(t, StagePasteCoverWait, next)

	next, err = nextStage(StagePasteCoverWait, eventCoverPasted)
	require.NoError(t, err)
	assert.Equal(t, StageBuildingMetadata, next)

	next, err = nextStage(StagePublishingDirectory, eventDirectoryHandedOff)
	require.NoError(t, err)
	assert.Equal(t, StagePasteDirectoryWait, next)

	next, err = nextStage(StagePasteDirectoryWait, eventDirectoryPasted)
	require.NoError(t, err)
	assert.Equal(t, StageRegisteringOnChain, next)
}

func TestFailureIsLegalFromAnyNonTerminalStage(t *testing.T) {
	for _, stage := range []Stage{
		StageIdle, StageFormValid, StageRpcChecking, StageEncrypting,
		StagePublishingCover, StagePasteCoverWait, StageBuildingMetadata,
		StagePublishingDirectory, StagePasteDirectoryWait, StageRegisteringOnChain,
	} {
		next, err := nextStage(stage, eventFailed)
		require.NoError(t, err, "stage %s", stage)
		assert.Equal(t, StageFailed, next)
	}

	_, err := nextStage(StageSuccess, eventFailed)
	assert.Error(t, err)
	_, err = nextStage(StageFailed, eventFailed)
	assert.Error(t, err)
}

func TestRetryOnlyFromFailed(t *testing.T) {
	next, err := nextStage(StageFailed, eventRetryRegistration)
	require.NoError(t, err)
	assert.Equal(t, StageRegisteringOnChain, next)

	_, err = nextStage(StageSuccess, eventRetryRegistration)
	assert.Error(t, err)
	_, err = nextStage(StageRegisteringOnChain, eventRetryRegistration)
	assert.Error(t, err)
}

func TestIllegalEventsRejected(t *testing.T) {
	_, err := nextStage(StageIdle, eventRegistered)
	assert.Error(t, err)

	_, err = nextStage(StageSuccess, eventFormValidated)
	assert.Error(t, err)
}
