package vertex

import (
	"context"
	"os/exec"
	"strings"
	"time"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/services/batch/domain"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/protobuf/encoding/protojson"
)

// gcloud prints the REST resource; fields it adds beyond the proto are ignored
var describeJSON = protojson.UnmarshalOptions{DiscardUnknown: true}

// GCloudBinary is the CLI looked up on PATH
const GCloudBinary = "gcloud"

// CLIAvailable reports whether the gcloud CLI is on PATH
func CLIAvailable() bool {
	_, err := exec.LookPath(GCloudBinary)
	return err == nil
}

// runner executes a command and returns stdout
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if ee, ok := err.(*exec.ExitError); ok {
		return out, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s: %s", name, strings.TrimSpace(string(ee.Stderr)))
	}
	return out, err
}

// GCloud reads job status through `gcloud ai batch-prediction-jobs describe`
type GCloud struct {
	Project  string
	Location string
	Timeout  time.Duration
	run      runner
}

var _ domain.StatusReader = (*GCloud)(nil)

// NewGCloud builds the CLI status reader
func NewGCloud(project, location string) *GCloud {
	return &GCloud{Project: project, Location: location, Timeout: 60 * time.Second, run: execRunner}
}

// Describe reads one job; jobID may be a full resource name or its trailing numeric id
func (g *GCloud) Describe(ctx context.Context, jobID string) (domain.JobInfo, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	id := jobID
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	args := []string{"ai", "batch-prediction-jobs", "describe", id, "--region", g.Location, "--format", "json"}
	if g.Project != "" {
		args = append(args, "--project", g.Project)
	}
	out, err := g.run(ctx, GCloudBinary, args...)
	if err != nil {
		return domain.JobInfo{}, perr.WithOp(perr.Wrap(err, perr.ErrorCodeUnavailable, "gcloud describe failed"), "gcloud.describe")
	}
	var j aiplatformpb.BatchPredictionJob
	if err := describeJSON.Unmarshal(out, &j); err != nil {
		return domain.JobInfo{}, perr.Wrap(err, perr.ErrorCodeJSON, "decode gcloud describe output")
	}
	info := jobInfo(&j)
	if info.Name == "" {
		info.Name = jobID
	}
	return info, nil
}
