// Package steprecorder implements C3: maintaining the execution_steps
// sequence of a Job, including spill-to-ObjectStore above a size threshold,
// grounded on the teacher's ledger/transcript persistence style
// (runtime/agent/ledger) of "append, reload, persist with overflow" around
// a bounded inline buffer.
package steprecorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// DefaultSpillThresholdBytes is the Open Question decision recorded in
// SPEC_FULL.md §3: the spec's illustrative "~350 KB" is fixed at exactly
// 350,000 bytes of encoded JSON.
const DefaultSpillThresholdBytes = 350_000

// Config tunes the Recorder.
type Config struct {
	// SpillThresholdBytes is the encoded-size cutoff at or above which persist
	// writes execution_steps to ObjectStore instead of inline on the Job
	// row. Zero means DefaultSpillThresholdBytes.
	SpillThresholdBytes int
}

// Recorder implements C3 over an ObjectStore (for spill), a KVStore (for
// the Job row and the execution_steps_blob artifact), and an IDGenerator.
type Recorder struct {
	objects capability.ObjectStore
	kv      capability.KVStore
	ids     capability.IDGenerator
	clock   capability.Clock
	cfg     Config
}

// New constructs a Recorder.
func New(objects capability.ObjectStore, kv capability.KVStore, ids capability.IDGenerator, clock capability.Clock, cfg Config) *Recorder {
	if cfg.SpillThresholdBytes <= 0 {
		cfg.SpillThresholdBytes = DefaultSpillThresholdBytes
	}
	return &Recorder{objects: objects, kv: kv, ids: ids, clock: clock, cfg: cfg}
}

// AppendOrReplace inserts record into records, replacing any existing entry
// with the same (step_order, step_type) key, and returns the result ordered
// by step_order ascending.
func AppendOrReplace(records []model.ExecutionStepRecord, record model.ExecutionStepRecord) []model.ExecutionStepRecord {
	key := record.Key()
	out := make([]model.ExecutionStepRecord, 0, len(records)+1)
	replaced := false
	for _, r := range records {
		if r.Key() == key {
			out = append(out, record)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

// Reload fetches the authoritative execution_steps sequence for job,
// reading from the spill object if the Job row carries a pointer to one.
func (r *Recorder) Reload(ctx context.Context, job model.Job) ([]model.ExecutionStepRecord, error) {
	if job.ExecutionStepsObjectKey == "" {
		return job.ExecutionSteps, nil
	}

	raw, err := r.objects.Get(ctx, job.ExecutionStepsObjectKey)
	if err != nil {
		return nil, fmt.Errorf("steprecorder: reload spill object %s: %w", job.ExecutionStepsObjectKey, err)
	}
	var records []model.ExecutionStepRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("steprecorder: decode spill object %s: %w", job.ExecutionStepsObjectKey, err)
	}
	return records, nil
}

// Persist writes records back onto job: inline if the encoded size is below
// the configured threshold, otherwise spilled to ObjectStore as an
// execution_steps_blob artifact with only the pointer kept on the Job row
// (§4.3: "at most one spill object per Job version"; §8's boundary is
// encoded length >= threshold spills, so the threshold itself spills).
func (r *Recorder) Persist(ctx context.Context, job *model.Job, records []model.ExecutionStepRecord) error {
	encoded, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("steprecorder: encode execution_steps for job %s: %w", job.JobID, err)
	}

	if len(encoded) < r.cfg.SpillThresholdBytes {
		job.ExecutionSteps = records
		job.ExecutionStepsObjectKey = ""
		return nil
	}

	key := fmt.Sprintf("%s/jobs/%s/execution_steps_%s.json", job.TenantID, job.JobID, r.ids.NewID(""))
	objectURL, _, err := r.objects.Put(ctx, key, encoded, "application/json", false)
	if err != nil {
		return fmt.Errorf("steprecorder: spill execution_steps for job %s: %w", job.JobID, err)
	}

	artifactID := r.ids.NewID("art")
	if err := r.kv.PutArtifact(ctx, model.Artifact{
		ArtifactID:   artifactID,
		TenantID:     job.TenantID,
		JobID:        job.JobID,
		ArtifactType: model.ArtifactTypeExecutionStepBlob,
		FileName:     fmt.Sprintf("execution_steps_%s.json", r.ids.NewID("")),
		MimeType:     "application/json",
		ObjectKey:    key,
		ObjectURL:    objectURL,
		SizeBytes:    int64(len(encoded)),
		CreatedAt:    r.clock.Now(),
	}); err != nil {
		return fmt.Errorf("steprecorder: record execution_steps_blob artifact for job %s: %w", job.JobID, err)
	}

	job.ExecutionSteps = nil
	job.ExecutionStepsObjectKey = key
	return nil
}
