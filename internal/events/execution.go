package events

import "time"

// PlanBuilt is emitted after an operation has been compiled into a plan.
type PlanBuilt struct {
	OperationName string
	LayerPlans    int
	Steps         int
	Duration      time.Duration
	Err           error
}

// BucketExecuted is emitted after every step of one bucket has settled.
type BucketExecuted struct {
	LayerPlan int
	Reason    string
	Size      int
	Start     time.Time
	Duration  time.Duration
	Err       error
}

// StepExecuted is emitted after one step settles in one bucket.
type StepExecuted struct {
	Step      int
	LayerPlan int
	// Count is the number of rows the step was executed with, after masking.
	Count    int
	Start    time.Time
	Duration time.Duration
	Err      error
}
