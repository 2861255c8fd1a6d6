package defaults

// Process exit codes for the chaosproxyd executable.
const (
	// ExitSuccess is a clean shutdown.
	ExitSuccess = 0

	// ExitPlanLoad means the initial plan failed to load or validate.
	ExitPlanLoad = 1

	// ExitPortBind means a listener could not bind its port.
	ExitPortBind = 2

	// ExitTapeIO means tape open, load, or flush failed.
	ExitTapeIO = 3

	// ExitStrictDependency means a strict-mode requirement is missing
	// (classifier rule packs, JWT secret, replay JSONPath support).
	ExitStrictDependency = 4
)
