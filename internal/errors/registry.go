package errors

// Error codes used across berth. Exported so callers can branch on
// taxonomy with IsCode without spelling raw strings.
const (
	CodeInvalidTarget          = "E101"
	CodePortInUse              = "E102"
	CodePortBindError          = "E103"
	CodeNotFound               = "E104"
	CodeRestartInfoUnavailable = "E105"
	CodeAmbiguousSelector      = "E106"
	CodeRegistryIO             = "E110"
	CodeProbeUnavailable       = "E111"
	CodePortScanExhausted      = "E112"
	CodeConfigError            = "E120"
	CodeConfigInvalid          = "E121"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Target errors (E101)
	// ============================================

	CodeInvalidTarget: {
		Category: CategoryTarget,
		Message:  "Directory does not exist or is not readable",
		Detail:   "The directory to serve must exist and be readable by the current user.",
	},

	// ============================================
	// Port errors (E102-E103, E111-E112)
	// ============================================

	CodePortInUse: {
		Category: CategoryPort,
		Message:  "Port is already in use",
		Detail:   "Another process is listening on the requested port.",
	},
	CodePortBindError: {
		Category: CategoryPort,
		Message:  "Server failed to bind the port",
		Detail:   "The port was free when checked but the server could not bind it. Another process may have taken it in between.",
	},
	CodeProbeUnavailable: {
		Category: CategoryPort,
		Message:  "Could not determine whether the port is in use",
		Detail:   "Probing the port failed for a reason other than the port being bound. An unknown probe result is never treated as a free port.",
	},
	CodePortScanExhausted: {
		Category: CategoryPort,
		Message:  "No free port found",
		Detail:   "Scanned the maximum number of ports upward from the starting port without finding a free one.",
	},

	// ============================================
	// Process errors (E104-E106)
	// ============================================

	CodeNotFound: {
		Category: CategoryProcess,
		Message:  "No running server matches the selector",
		Detail:   "Neither the registry nor the OS process table knows a live server for that port or pid.",
	},
	CodeRestartInfoUnavailable: {
		Category: CategoryProcess,
		Message:  "Cannot recover the directory for restart",
		Detail:   "The registry has no record for this instance and the directory could not be recovered from the process table.",
	},
	CodeAmbiguousSelector: {
		Category: CategoryProcess,
		Message:  "Selector matches more than one process",
		Detail:   "Multiple processes are bound to the selected port. Refusing to guess which one to act on.",
	},

	// ============================================
	// Registry errors (E110)
	// ============================================

	CodeRegistryIO: {
		Category: CategoryRegistry,
		Message:  "Registry record could not be read or written",
		Detail:   "The record is treated as absent. This is non-fatal but the registry may have drifted from reality.",
	},

	// ============================================
	// Config errors (E120-E121)
	// ============================================

	CodeConfigError: {
		Category: CategoryConfig,
		Message:  "Failed to read or write berth.json",
	},
	CodeConfigInvalid: {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
	},
}
