package core

// InstallOptions contains options for package installation
type InstallOptions struct {
	Reason    InstallReason // Reason recorded for the requested package (default explicit)
	NoDeps    bool          // Install only the requested package, skipping dependency resolution
	Overwrite bool          // Overwrite files already present under the install root
}

// RemoveOptions contains options for package removal
type RemoveOptions struct {
	Cascade bool // Also remove every installed package that depends on the target
}
