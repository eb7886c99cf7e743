package session

import "errors"

// Sentinel errors for session and job operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy with another command")
	ErrSessionDead     = errors.New("session shell is dead")
	ErrNotInteractive  = errors.New("session is not waiting for input")
	ErrSpawn           = errors.New("failed to spawn device shell")
	ErrRootDenied      = errors.New("root escalation denied")
	ErrJobNotFound     = errors.New("background job not found")
	ErrNoDeviceSession = errors.New("no live session on the job's device")
)
