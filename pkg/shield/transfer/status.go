package transfer

// StatusFunc receives human readable progress updates at every phase boundary
type StatusFunc func(status string)

const (
	StatusCheckingBalance       = "Checking balance..."
	StatusCompressing           = "Compressing SOL..."
	StatusConfirmingCompression = "Confirming compression..."
	StatusSelecting             = "Selecting shielded accounts..."
	StatusRequestingProof       = "Requesting validity proof..."
	StatusCreatingTransfer      = "Creating private transfer..."
	StatusConfirmingTransfer    = "Confirming transfer..."
	StatusUnshielding           = "Unshielding SOL..."
	StatusConfirmingUnshield    = "Confirming unshield..."
	StatusDone                  = "Done"
)
