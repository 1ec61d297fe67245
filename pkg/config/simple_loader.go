package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/dbsync/pkg/errors"
)

// JobsFile is the on-disk layout of a jobs file.
type JobsFile struct {
	// Defaults are applied to every job before its own fields.
	Defaults *SyncJobConfig  `yaml:"defaults,omitempty"`
	Jobs     []SyncJobConfig `yaml:"jobs"`
}

// Load loads a configuration from a YAML file
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// LoadJobs reads a jobs file, applies defaults and validates every job.
// All problems across all jobs are reported together.
func LoadJobs(filePath string) ([]*SyncJobConfig, error) {
	var raw struct {
		Defaults yaml.Node   `yaml:"defaults"`
		Jobs     []yaml.Node `yaml:"jobs"`
	}
	if err := Load(filePath, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load jobs file").
			WithDetail("path", filePath)
	}
	if len(raw.Jobs) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no jobs defined in %s", filePath)
	}

	jobs := make([]*SyncJobConfig, 0, len(raw.Jobs))
	for i := range raw.Jobs {
		job := &SyncJobConfig{}
		// defaults first, then the job's own keys on top
		if !raw.Defaults.IsZero() {
			if err := raw.Defaults.Decode(job); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid defaults section")
			}
			job.Name = ""
		}
		if err := raw.Jobs[i].Decode(job); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid jobs[%d]", i))
		}
		job.ApplyDefaults()
		jobs = append(jobs, job)
	}

	if err := ValidateJobs(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ValidateJobs validates each job and checks names are unique.
func ValidateJobs(jobs []*SyncJobConfig) error {
	var problems []string
	seen := make(map[string]bool, len(jobs))

	for i, job := range jobs {
		if err := job.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("jobs[%d]: %s", i, errMessage(err)))
		}
		key := strings.ToLower(strings.TrimSpace(job.Name))
		if key == "" {
			continue
		}
		if seen[key] {
			problems = append(problems, fmt.Sprintf("jobs[%d]: duplicate job name %q", i, job.Name))
		}
		seen[key] = true
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "invalid jobs file:\n"+strings.Join(problems, "\n")).
			WithDetail("problems", problems)
	}
	return nil
}

// SelectJobs returns the jobs whose names are listed, in file order.
// An empty names list selects every job.
func SelectJobs(jobs []*SyncJobConfig, names []string) ([]*SyncJobConfig, error) {
	if len(names) == 0 {
		return jobs, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	var out []*SyncJobConfig
	for _, job := range jobs {
		if want[strings.ToLower(job.Name)] {
			out = append(out, job)
			delete(want, strings.ToLower(job.Name))
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, n := range names {
			if want[strings.ToLower(n)] {
				missing = append(missing, n)
			}
		}
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown job(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func errMessage(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
