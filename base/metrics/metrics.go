package metrics

const (
	ServoDriftH       = "The current value of the drift compensation accumulator"
	ServoDriftN       = "countersync_servo_drift"
	ServoLockCountH   = "The current value of the lock detector counter"
	ServoLockCountN   = "countersync_servo_lock_count"
	ServoLockedH      = "Whether the servo is locked at the finest acquisition stage"
	ServoLockedN      = "countersync_servo_locked"
	ServoLockLossesH  = "The total number of transitions from locked to unlocked"
	ServoLockLossesN  = "countersync_servo_lock_losses"
	ServoPeriodPPMH   = "The current local sample period estimate relative to nominal in ppm"
	ServoPeriodPPMN   = "countersync_servo_period_ppm"
	ServoStageH       = "The current acquisition stage (0 finest, 4 coarsest)"
	ServoStageN       = "countersync_servo_stage"
	ServoStrobesH     = "The total number of alignment strobes consumed by the acquisition controller"
	ServoStrobesN     = "countersync_servo_strobes"
	ServoTransitionsH = "The total number of acquisition stage transitions"
	ServoTransitionsN = "countersync_servo_transitions"
	ServoWaitingH     = "Whether the acquisition controller is waiting for an alignment pulse"
	ServoWaitingN     = "countersync_servo_waiting"

	SyncBatchesH = "The total number of input sample batches processed"
	SyncBatchesN = "countersync_sync_batches"
	SyncSamplesH = "The total number of input samples processed"
	SyncSamplesN = "countersync_sync_samples"
	SyncOffsetH  = "The current output counter offset in subns"
	SyncOffsetN  = "countersync_sync_offset"
	SyncRatePPMH = "The source counter rate measured over recent batches relative to nominal in ppm"
	SyncRatePPMN = "countersync_sync_rate_ppm"

	TelemetryPktsSentH     = "The total number of telemetry packets sent"
	TelemetryPktsSentN     = "countersync_telemetry_pkts_sent"
	TelemetryPktsReceivedH = "The total number of telemetry packets received"
	TelemetryPktsReceivedN = "countersync_telemetry_pkts_received"
)
