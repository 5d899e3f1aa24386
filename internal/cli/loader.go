package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/zodbtool/internal/zodb"
)

// SyncJob is a replication job description loaded from a CUE file.
// The file defines a single `job` struct:
//
//	job: {
//		primary:   "path/to/primary.db"
//		secondary: "path/to/secondary.db"
//		until:     "0000000000000005"  // optional, 16 hex digits
//	}
type SyncJob struct {
	Primary   string
	Secondary string
	Until     zodb.Tid // 0 when not set
}

// LoadError represents an error that occurred during job loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSyncJob loads and validates a replication job from a CUE file.
func LoadSyncJob(path string) (*SyncJob, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("job file not found: %s", path)}
	}

	ctx := cuecontext.New()
	dir := filepath.Dir(path)
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{filepath.Base(path)}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE file: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	jobVal := value.LookupPath(cue.ParsePath("job"))
	if !jobVal.Exists() {
		return nil, &LoadError{Code: ErrCodeJobMissing, Message: "no job struct found in file"}
	}

	job := &SyncJob{}

	primary, err := requireString(jobVal, "primary")
	if err != nil {
		return nil, err
	}
	job.Primary = primary

	secondary, err := requireString(jobVal, "secondary")
	if err != nil {
		return nil, err
	}
	job.Secondary = secondary

	untilVal := jobVal.LookupPath(cue.ParsePath("until"))
	if untilVal.Exists() {
		s, err := untilVal.String()
		if err != nil {
			return nil, &LoadError{Code: ErrCodeJobField, Message: fmt.Sprintf("until: %v", err), Pos: untilVal.Pos()}
		}
		tid, err := zodb.ParseTid(s)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeJobField, Message: fmt.Sprintf("until: %v", err), Pos: untilVal.Pos()}
		}
		job.Until = tid
	}

	return job, nil
}

// requireString extracts a required string field from a CUE struct value.
func requireString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &LoadError{Code: ErrCodeJobField, Message: fmt.Sprintf("%s is required", field), Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", &LoadError{Code: ErrCodeJobField, Message: fmt.Sprintf("%s: %v", field, err), Pos: fv.Pos()}
	}
	if s == "" {
		return "", &LoadError{Code: ErrCodeJobField, Message: fmt.Sprintf("%s must be non-empty", field), Pos: fv.Pos()}
	}
	return s, nil
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeOpenFailed  = "E002" // Storage open failed
	ErrCodeParseFailed = "E003" // Dump input parse error
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	// Job validation errors
	ErrCodeJobMissing = "E101" // No job struct in file
	ErrCodeJobField   = "E102" // Invalid or missing job field
)
