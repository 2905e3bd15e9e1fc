package tool

import "errors"

var (
	// ErrUnknownTool is returned when a tool is not found in the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when registering a tool with a name that
	// already exists in the registry.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrEmptyToolName is returned when a tool name is empty.
	ErrEmptyToolName = errors.New("tool name must not be empty")

	// ErrNoCapabilities is returned when a tool declares no capabilities.
	ErrNoCapabilities = errors.New("tool must declare at least one capability")

	// ErrInvalidSchema is returned when a tool's parameter schema does not compile.
	ErrInvalidSchema = errors.New("invalid tool schema")

	// ErrRegistrySealed is returned when registering into a sealed registry.
	ErrRegistrySealed = errors.New("registry is sealed")

	// ErrInvalidArguments is returned when call arguments do not match the
	// tool's parameter schema.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrPermissionDenied is returned when a call is denied by policy or by the user.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidationFailed is returned when the safety validator cannot evaluate
	// a call's arguments.
	ErrValidationFailed = errors.New("validation failed")

	// ErrExecutionFailed marks a call whose underlying operation failed.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrTimedOut marks a call that exceeded its time budget.
	ErrTimedOut = errors.New("timed out")

	// ErrCancelled is returned when the caller aborted a call.
	ErrCancelled = errors.New("cancelled")
)
