// Package manager owns the single active model session and its activation
// lifecycle. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters, Close.
//   - config.go: ManagerConfig; NewWithConfig applies defaults.
//   - types.go: slot state (State, activeModel, Snapshot).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, ...).
//   - activation.go: RequestActivation and the background activation task.
//   - admission.go: WithActive, the bounded queue and the session lock.
//   - status_report.go: Status/Snapshot reporting.
//   - events.go, eventpub_memory.go: lifecycle events and publishers.
//   - metrics.go: Prometheus collectors.
//
// States move Empty -> Loading -> Active -> Loading -> ... An activation
// first retires the installed session (after its request in flight), then
// builds the new one. A failed activation leaves the slot empty; the error is
// logged, published, and reported by Status, never returned to the caller
// that requested it.
//
// External packages should use public methods only (New/NewWithConfig,
// RequestActivation, WithActive, ActiveModelID, Loading, ListModels, Status).
package manager
