package listings

import "fmt"

// Stage of a listing creation session. The pipeline only ever moves forward;
// a failure records where it happened and the only way back in is a
// registration retry.
type Stage string

const (
	StageIdle                Stage = "idle"
	StageFormValid           Stage = "form_valid"
	StageRpcChecking         Stage = "rpc_checking"
	StageEncrypting          Stage = "encrypting"
	StagePublishingCover     Stage = "publishing_cover"
	StagePasteCoverWait      Stage = "paste_cover_wait"
	StageBuildingMetadata    Stage = "building_metadata"
	StagePublishingDirectory Stage = "publishing_directory"
	StagePasteDirectoryWait  Stage = "paste_directory_wait"
	StageRegisteringOnChain  Stage = "registering_on_chain"
	StageSuccess             Stage = "success"
	StageFailed              Stage = "failed"
)

type event string

const (
	eventFormValidated      event = "form_validated"
	eventRpcCheckStarted    event = "rpc_check_started"
	eventRpcConfirmed       event = "rpc_confirmed"
	eventEncrypted          event = "encrypted"
	eventCoverPublished     event = "cover_published"
	eventCoverHandedOff     event = "cover_handed_off"
	eventCoverPasted        event = "cover_pasted"
	eventMetadataBuilt      event = "metadata_built"
	eventDirectoryPublished event = "directory_published"
	eventDirectoryHandedOff event = "directory_handed_off"
	eventDirectoryPasted    event = "directory_pasted"
	eventRegistered         event = "registered"
	eventFailed             event = "failed"
	eventRetryRegistration  event = "retry_registration"
)

var transitions = map[Stage]map[event]Stage{
	StageIdle: {
		eventFormValidated: StageFormValid,
	},
	StageFormValid: {
		eventRpcCheckStarted: StageRpcChecking,
	},
	StageRpcChecking: {
		eventRpcConfirmed: StageEncrypting,
	},
	StageEncrypting: {
		eventEncrypted: StagePublishingCover,
	},
	StagePublishingCover: {
		eventCoverPublished: StageBuildingMetadata,
		eventCoverHandedOff: StagePasteCoverWait,
	},
	StagePasteCoverWait: {
		eventCoverPasted: StageBuildingMetadata,
	},
	StageBuildingMetadata: {
		eventMetadataBuilt: StagePublishingDirectory,
	},
	StagePublishingDirectory: {
		eventDirectoryPublished: StageRegisteringOnChain,
		eventDirectoryHandedOff: StagePasteDirectoryWait,
	},
	StagePasteDirectoryWait: {
		eventDirectoryPasted: StageRegisteringOnChain,
	},
	StageRegisteringOnChain: {
		eventRegistered: StageSuccess,
	},
	StageFailed: {
		eventRetryRegistration: StageRegisteringOnChain,
	},
}

// nextStage applies one event. Failure is legal from every stage except the
// two terminal ones.
func nextStage(s Stage, ev event) (Stage, error) {
	if ev == eventFailed {
		if s == StageSuccess || s == StageFailed {
			return s, fmt.Errorf("stage %s is terminal", s)
		}
		return StageFailed, nil
	}

	next, ok := transitions[s][ev]
	if !ok {
		return s, fmt.Errorf("event %s is not legal in stage %s", ev, s)
	}

	return next, nil
}
