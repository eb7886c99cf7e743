package session

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// JobStatus classifies a background job.
type JobStatus string

const (
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobUnknown   JobStatus = "UNKNOWN"
)

// Job is a device-side command detached from any session. Its output
// and exit code live in files under the job work directory, so the job
// survives session teardown and can be checked through any live shell
// on the same device.
type Job struct {
	ID        string    `json:"job_id"`
	Serial    string    `json:"device_serial"`
	Command   string    `json:"command"`
	PID       string    `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	OutPath   string    `json:"-"`
	RCPath    string    `json:"-"`
}

// JobReport is the result of checking a job.
type JobReport struct {
	Job
	Status     JobStatus `json:"status"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	OutputTail string    `json:"output_tail,omitempty"`
}

// JobTracker launches and checks background jobs.
type JobTracker struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	workDir string
}

// NewJobTracker creates a tracker writing job files under workDir on
// the device.
func NewJobTracker(workDir string) *JobTracker {
	return &JobTracker{
		jobs:    make(map[string]*Job),
		workDir: workDir,
	}
}

// Start detaches a command on the session's device. The wrapper
// redirects all output to the job's .out file and writes the exit code
// to the .rc file when the command finishes, so completion and failure
// are distinguishable later.
func (t *JobTracker) Start(s *Session, jobID, command string) (*Job, error) {
	outPath := path.Join(t.workDir, jobID+".out")
	rcPath := path.Join(t.workDir, jobID+".rc")

	inner := fmt.Sprintf("{ %s ; } > %s 2>&1; echo $? > %s", command, outPath, rcPath)
	bg := fmt.Sprintf("nohup sh -c %s >/dev/null 2>&1 & echo $!", shellQuote(inner))

	res, err := s.Run(bg, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	if res.Status != StatusSuccess {
		return nil, fmt.Errorf("start job: launcher returned %s", res.Status)
	}

	job := &Job{
		ID:        jobID,
		Serial:    s.Serial,
		Command:   command,
		PID:       extractPID(res.Output),
		StartedAt: s.clock.Now(),
		OutPath:   outPath,
		RCPath:    rcPath,
	}

	t.mu.Lock()
	t.jobs[jobID] = job
	t.mu.Unlock()

	return job, nil
}

// Check reports a job's status through any live session on its device.
func (t *JobTracker) Check(s *Session, jobID string, tailLines int) (*JobReport, error) {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if tailLines <= 0 {
		tailLines = 20
	}

	probe := fmt.Sprintf(
		"if [ -f %s ]; then echo RC:$(cat %s); else echo RC:NONE; fi; ", job.RCPath, job.RCPath)
	if job.PID != "" {
		probe += fmt.Sprintf("kill -0 %s 2>/dev/null && echo ALIVE:yes || echo ALIVE:no; ", job.PID)
	} else {
		probe += "echo ALIVE:unknown; "
	}
	probe += fmt.Sprintf("tail -n %d %s 2>/dev/null", tailLines, job.OutPath)

	res, err := s.Run(probe, 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("check job: %w", err)
	}
	if res.Status != StatusSuccess {
		return nil, fmt.Errorf("check job: probe returned %s", res.Status)
	}

	report := &JobReport{Job: *job}
	var rcLine, aliveLine string
	var outLines []string
	for _, line := range strings.Split(res.Output, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "RC:") && rcLine == "":
			rcLine = strings.TrimPrefix(trimmed, "RC:")
		case strings.HasPrefix(trimmed, "ALIVE:") && aliveLine == "":
			aliveLine = strings.TrimPrefix(trimmed, "ALIVE:")
		default:
			outLines = append(outLines, line)
		}
	}
	report.OutputTail = strings.TrimSpace(strings.Join(outLines, "\n"))

	switch {
	case rcLine != "" && rcLine != "NONE":
		if code, err := strconv.Atoi(rcLine); err == nil {
			report.ExitCode = &code
			if code == 0 {
				report.Status = JobCompleted
			} else {
				report.Status = JobFailed
			}
		} else {
			report.Status = JobUnknown
		}
	case aliveLine == "yes":
		report.Status = JobRunning
	default:
		// No exit file and no live process: the job may have been
		// killed, or the exit file write may have failed
		report.Status = JobUnknown
	}

	return report, nil
}

// Get returns a tracked job by ID.
func (t *JobTracker) Get(jobID string) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// List returns all tracked jobs.
func (t *JobTracker) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

// extractPID finds the PID echoed by the job launcher.
func extractPID(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if _, err := strconv.Atoi(trimmed); err == nil {
			return trimmed
		}
	}
	return ""
}

// shellQuote wraps s in single quotes for the device shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
