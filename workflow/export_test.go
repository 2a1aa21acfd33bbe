package workflow

// Hooks for external tests that drive internals directly.
var ApplyStatusTransition = applyStatusTransition
