package workflow

// Trigger represents an event that can cause a lifecycle transition
type Trigger string

const (
	TriggerStart                Trigger = "START"
	TriggerWriteTests           Trigger = "TESTS_WRITTEN"
	TriggerPassTests            Trigger = "TESTS_PASS"
	TriggerRefactor             Trigger = "REFACTOR"
	TriggerWriteIntegrationTest Trigger = "INTEGRATION_TESTS_WRITTEN"
	TriggerPassIntegrationTest  Trigger = "INTEGRATION_TESTS_PASS"
	TriggerVerify               Trigger = "VERIFY"
	TriggerComplete             Trigger = "COMPLETE"
	TriggerBlock                Trigger = "BLOCK"
	TriggerUnblock              Trigger = "UNBLOCK"
	TriggerFail                 Trigger = "FAIL"
)

// EventErrorOccurred is the conventional escape-hatch event for data-driven workflows
const EventErrorOccurred = "ERROR_OCCURRED"

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
