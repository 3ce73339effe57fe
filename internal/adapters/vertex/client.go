// Package vertex is the Vertex AI boundary: batch prediction jobs, generateContent and a gcloud status reader
package vertex

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cardbatch/internal/adapters/gcp"
	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/iterator"
)

// Options configures the Vertex client
type Options struct {
	Project  string
	Location string
	Model    string
	// Conn.Endpoint overrides https://<location>-aiplatform.googleapis.com
	Conn gcp.Conn
}

// Client talks to Vertex AI through the aiplatform REST clients
type Client struct {
	opts Options
	log  logger.Logger

	once    sync.Once
	jobs    *aiplatform.JobClient
	predict *aiplatform.PredictionClient
	initErr error
}

var _ domain.JobAPI = (*Client)(nil)

// New builds a Client. The SDK clients are created on first use
func New(o Options) *Client {
	if o.Conn.Endpoint == "" {
		o.Conn.Endpoint = fmt.Sprintf("https://%s-aiplatform.googleapis.com", o.Location)
	}
	return &Client{opts: o, log: *logger.Named("vertex")}
}

func (c *Client) sdk(ctx context.Context) error {
	c.once.Do(func() {
		ctx := context.WithoutCancel(ctx)
		opts := c.opts.Conn.ClientOptions()
		jobs, err := aiplatform.NewJobRESTClient(ctx, opts...)
		if err != nil {
			c.initErr = perr.Wrap(err, perr.ErrorCodeConfiguration, "create vertex job client")
			return
		}
		predict, err := aiplatform.NewPredictionRESTClient(ctx, opts...)
		if err != nil {
			_ = jobs.Close()
			c.initErr = perr.Wrap(err, perr.ErrorCodeConfiguration, "create vertex prediction client")
			return
		}
		c.jobs, c.predict = jobs, predict
	})
	return c.initErr
}

// Close releases the SDK clients
func (c *Client) Close() error {
	var errs []error
	if c.jobs != nil {
		errs = append(errs, c.jobs.Close())
	}
	if c.predict != nil {
		errs = append(errs, c.predict.Close())
	}
	return errors.Join(errs...)
}

func (c *Client) retry() gax.CallOption {
	return gax.WithRetry(c.opts.Conn.Retryer)
}

// ModelResource returns the publisher model path for a model id
func ModelResource(model string) string {
	if strings.HasPrefix(model, "publishers/") || strings.HasPrefix(model, "projects/") {
		return model
	}
	return "publishers/google/models/" + model
}

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.opts.Project, c.opts.Location)
}

// jobInfo flattens a job resource; an unspecified state reads as empty
func jobInfo(j *aiplatformpb.BatchPredictionJob) domain.JobInfo {
	raw := ""
	if st := j.GetState(); st != aiplatformpb.JobState_JOB_STATE_UNSPECIFIED {
		raw = st.String()
	}
	return domain.JobInfo{
		Name:      j.GetName(),
		RawState:  raw,
		Status:    domain.NormalizeStatus(raw),
		OutputDir: j.GetOutputInfo().GetGcsOutputDirectory(),
		Error:     j.GetError().GetMessage(),
	}
}

// Create submits a batch prediction job. The returned handle resolves the job name lazily
func (c *Client) Create(ctx context.Context, spec domain.JobSpec) (domain.JobHandle, error) {
	if err := c.sdk(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.Conn.WithTimeout(ctx)
	defer cancel()

	created, err := c.jobs.CreateBatchPredictionJob(ctx, &aiplatformpb.CreateBatchPredictionJobRequest{
		Parent: c.parent(),
		BatchPredictionJob: &aiplatformpb.BatchPredictionJob{
			DisplayName: spec.DisplayName,
			Model:       ModelResource(spec.Model),
			InputConfig: &aiplatformpb.BatchPredictionJob_InputConfig{
				InstancesFormat: "jsonl",
				Source: &aiplatformpb.BatchPredictionJob_InputConfig_GcsSource{
					GcsSource: &aiplatformpb.GcsSource{Uris: []string{spec.InputURI}},
				},
			},
			OutputConfig: &aiplatformpb.BatchPredictionJob_OutputConfig{
				PredictionsFormat: "jsonl",
				Destination: &aiplatformpb.BatchPredictionJob_OutputConfig_GcsDestination{
					GcsDestination: &aiplatformpb.GcsDestination{OutputUriPrefix: spec.OutputPrefix},
				},
			},
		},
	}, c.retry())
	if err != nil {
		return nil, gcp.Classify(err, "vertex.create_job")
	}
	c.log.Info().Str("display_name", spec.DisplayName).Str("name", created.GetName()).Msg("batch job accepted")
	return &handle{c: c, name: created.GetName(), displayName: spec.DisplayName}, nil
}

// Get reads one job by its resource name
func (c *Client) Get(ctx context.Context, jobID string) (domain.JobInfo, error) {
	if err := c.sdk(ctx); err != nil {
		return domain.JobInfo{}, err
	}
	ctx, cancel := c.opts.Conn.WithTimeout(ctx)
	defer cancel()

	j, err := c.jobs.GetBatchPredictionJob(ctx, &aiplatformpb.GetBatchPredictionJobRequest{Name: jobID}, c.retry())
	if err != nil {
		return domain.JobInfo{}, gcp.Classify(err, "vertex.get_job")
	}
	return jobInfo(j), nil
}

// FindByDisplayName returns the newest job carrying displayName
func (c *Client) FindByDisplayName(ctx context.Context, displayName string) (string, error) {
	if err := c.sdk(ctx); err != nil {
		return "", err
	}
	ctx, cancel := c.opts.Conn.WithTimeout(ctx)
	defer cancel()

	it := c.jobs.ListBatchPredictionJobs(ctx, &aiplatformpb.ListBatchPredictionJobsRequest{
		Parent:   c.parent(),
		Filter:   fmt.Sprintf("display_name=%q", displayName),
		PageSize: 10,
	}, c.retry())
	for {
		j, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return "", perr.NotFoundf("no batch job named %q yet", displayName)
		}
		if err != nil {
			return "", gcp.Classify(err, "vertex.list_jobs")
		}
		if j.GetDisplayName() == displayName && j.GetName() != "" {
			return j.GetName(), nil
		}
	}
}

// GenerateContent runs one synchronous request against the configured model
func (c *Client) GenerateContent(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	if err := c.sdk(ctx); err != nil {
		return domain.GenerateResponse{}, err
	}
	in, err := toProto(req)
	if err != nil {
		return domain.GenerateResponse{}, err
	}
	in.Model = c.parent() + "/" + ModelResource(c.opts.Model)

	ctx, cancel := c.opts.Conn.WithTimeout(ctx)
	defer cancel()
	out, err := c.predict.GenerateContent(ctx, in, c.retry())
	if err != nil {
		return domain.GenerateResponse{}, gcp.Classify(err, "vertex.generate_content")
	}
	return fromProto(out), nil
}

// toProto converts a request body; inline data arrives base64 encoded
func toProto(req domain.GenerateRequest) (*aiplatformpb.GenerateContentRequest, error) {
	out := &aiplatformpb.GenerateContentRequest{}
	for _, ct := range req.Contents {
		pc := &aiplatformpb.Content{Role: ct.Role}
		for _, p := range ct.Parts {
			switch {
			case p.InlineData != nil:
				b, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, perr.Wrap(err, perr.ErrorCodeValidation, "inline data is not base64")
				}
				pc.Parts = append(pc.Parts, &aiplatformpb.Part{Data: &aiplatformpb.Part_InlineData{
					InlineData: &aiplatformpb.Blob{MimeType: p.InlineData.MimeType, Data: b},
				}})
			case p.FileData != nil:
				pc.Parts = append(pc.Parts, &aiplatformpb.Part{Data: &aiplatformpb.Part_FileData{
					FileData: &aiplatformpb.FileData{MimeType: p.FileData.MimeType, FileUri: p.FileData.FileURI},
				}})
			default:
				pc.Parts = append(pc.Parts, &aiplatformpb.Part{Data: &aiplatformpb.Part_Text{Text: p.Text}})
			}
		}
		out.Contents = append(out.Contents, pc)
	}
	return out, nil
}

func fromProto(r *aiplatformpb.GenerateContentResponse) domain.GenerateResponse {
	var out domain.GenerateResponse
	for _, cand := range r.GetCandidates() {
		dc := domain.Candidate{Content: domain.Content{Role: cand.GetContent().GetRole()}}
		if fr := cand.GetFinishReason(); fr != aiplatformpb.Candidate_FINISH_REASON_UNSPECIFIED {
			dc.FinishReason = fr.String()
		}
		for _, p := range cand.GetContent().GetParts() {
			dc.Content.Parts = append(dc.Content.Parts, domain.Part{Text: p.GetText()})
		}
		out.Candidates = append(out.Candidates, dc)
	}
	return out
}

// handle resolves a created job. Name confirms the job is addressable; ResourceName looks it up by display name
type handle struct {
	c           *Client
	name        string
	displayName string
}

func (h *handle) Name(ctx context.Context) (string, error) {
	if h.name == "" {
		return "", perr.NotFoundf("job %q has no name yet", h.displayName)
	}
	if _, err := h.c.Get(ctx, h.name); err != nil {
		return "", err
	}
	return h.name, nil
}

func (h *handle) ResourceName(ctx context.Context) (string, error) {
	return h.c.FindByDisplayName(ctx, h.displayName)
}
