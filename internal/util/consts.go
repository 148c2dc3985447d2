package util

// File and directory names used inside the storage dir.
const (
	ConfigFileName    = "settingsync.toml"
	DefaultStorageDir = "settingsSync"
	LogDir            = "log"
	StateFileName     = "state.json"
	ConflictsFileName = "conflicts.json"
	LockFileName      = ".lock"
)
