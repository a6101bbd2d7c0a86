// Package kvstore implements capability.KVStore over MongoDB, grounded on
// the teacher's features/memory/mongo and features/run/mongo clients: one
// collection per entity, a compare-and-set write discipline on Job/Artifact,
// and a secondary index for artifact-by-job lookups.
package kvstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// Store implements capability.KVStore against a MongoDB database with one
// collection per entity.
type Store struct {
	jobs        *mongo.Collection
	workflows   *mongo.Collection
	submissions *mongo.Collection
	forms       *mongo.Collection
	artifacts   *mongo.Collection
	templates   *mongo.Collection
}

// New constructs a Store over db, using the collection names the teacher's
// Mongo clients use by convention: jobs, workflows, submissions, forms,
// artifacts, templates.
func New(db *mongo.Database) *Store {
	return &Store{
		jobs:        db.Collection("jobs"),
		workflows:   db.Collection("workflows"),
		submissions: db.Collection("submissions"),
		forms:       db.Collection("forms"),
		artifacts:   db.Collection("artifacts"),
		templates:   db.Collection("templates"),
	}
}

// EnsureIndexes creates the secondary index backing ListArtifactsByJob and
// the uniqueness indexes on primary keys. Call once at process start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.artifacts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "job_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("kvstore: create artifact job index: %w", err)
	}
	if _, err := s.jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "job_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("kvstore: create job index: %w", err)
	}
	return nil
}

var _ capability.KVStore = (*Store)(nil)

func (s *Store) GetJob(ctx context.Context, tenantID, jobID string) (model.Job, error) {
	var job model.Job
	err := s.jobs.FindOne(ctx, bson.M{"tenant_id": tenantID, "job_id": jobID}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return model.Job{}, capability.ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("kvstore: get job %s: %w", jobID, err)
	}
	return job, nil
}

// GetJobByID resolves a job by id alone, for the Job Processor entry point
// which is handed only a job_id (§6).
func (s *Store) GetJobByID(ctx context.Context, jobID string) (model.Job, error) {
	var job model.Job
	err := s.jobs.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return model.Job{}, capability.ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("kvstore: get job by id %s: %w", jobID, err)
	}
	return job, nil
}

// PutJob writes job with a compare-and-set on Version (§5): if job.Version
// is zero the document must not already exist (insert); otherwise the
// existing document's version field must equal job.Version, and the write
// bumps it to job.Version+1. A mismatch yields capability.ErrVersionConflict.
func (s *Store) PutJob(ctx context.Context, job model.Job) error {
	if job.Version == 0 {
		job.Version = 1
		_, err := s.jobs.InsertOne(ctx, job)
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("kvstore: put job %s: %w", job.JobID, capability.ErrVersionConflict)
		}
		if err != nil {
			return fmt.Errorf("kvstore: insert job %s: %w", job.JobID, err)
		}
		return nil
	}

	filter := bson.M{"tenant_id": job.TenantID, "job_id": job.JobID, "version": job.Version}
	next := job
	next.Version = job.Version + 1
	res, err := s.jobs.ReplaceOne(ctx, filter, next)
	if err != nil {
		return fmt.Errorf("kvstore: replace job %s: %w", job.JobID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("kvstore: put job %s: %w", job.JobID, capability.ErrVersionConflict)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, tenantID, workflowID string) (model.Workflow, error) {
	var wf model.Workflow
	err := s.workflows.FindOne(ctx, bson.M{"tenant_id": tenantID, "workflow_id": workflowID}).Decode(&wf)
	if err == mongo.ErrNoDocuments {
		return model.Workflow{}, capability.ErrNotFound
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("kvstore: get workflow %s: %w", workflowID, err)
	}
	return wf, nil
}

func (s *Store) GetSubmission(ctx context.Context, tenantID, submissionID string) (model.Submission, error) {
	var sub model.Submission
	err := s.submissions.FindOne(ctx, bson.M{"tenant_id": tenantID, "submission_id": submissionID}).Decode(&sub)
	if err == mongo.ErrNoDocuments {
		return model.Submission{}, capability.ErrNotFound
	}
	if err != nil {
		return model.Submission{}, fmt.Errorf("kvstore: get submission %s: %w", submissionID, err)
	}
	return sub, nil
}

func (s *Store) GetForm(ctx context.Context, tenantID, formID string) (model.Form, error) {
	var form model.Form
	err := s.forms.FindOne(ctx, bson.M{"tenant_id": tenantID, "form_id": formID}).Decode(&form)
	if err == mongo.ErrNoDocuments {
		return model.Form{}, capability.ErrNotFound
	}
	if err != nil {
		return model.Form{}, fmt.Errorf("kvstore: get form %s: %w", formID, err)
	}
	return form, nil
}

// PutArtifact inserts artifact. Artifacts are immutable post-write (§3), so
// this is always an insert, never an update; a duplicate artifact_id is
// rejected.
func (s *Store) PutArtifact(ctx context.Context, artifact model.Artifact) error {
	_, err := s.artifacts.InsertOne(ctx, artifact)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("kvstore: put artifact %s: %w", artifact.ArtifactID, capability.ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("kvstore: insert artifact %s: %w", artifact.ArtifactID, err)
	}
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, tenantID, artifactID string) (model.Artifact, error) {
	var a model.Artifact
	err := s.artifacts.FindOne(ctx, bson.M{"tenant_id": tenantID, "artifact_id": artifactID}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return model.Artifact{}, capability.ErrNotFound
	}
	if err != nil {
		return model.Artifact{}, fmt.Errorf("kvstore: get artifact %s: %w", artifactID, err)
	}
	return a, nil
}

func (s *Store) GetTemplate(ctx context.Context, tenantID, templateID string, version int) (model.Template, error) {
	var tmpl model.Template
	err := s.templates.FindOne(ctx, bson.M{"tenant_id": tenantID, "template_id": templateID, "version": version}).Decode(&tmpl)
	if err == mongo.ErrNoDocuments {
		return model.Template{}, capability.ErrNotFound
	}
	if err != nil {
		return model.Template{}, fmt.Errorf("kvstore: get template %s: %w", templateID, err)
	}
	return tmpl, nil
}

func (s *Store) ListArtifactsByJob(ctx context.Context, tenantID, jobID string) ([]model.Artifact, error) {
	cur, err := s.artifacts.Find(ctx, bson.M{"tenant_id": tenantID, "job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("kvstore: list artifacts for job %s: %w", jobID, err)
	}
	defer cur.Close(ctx)

	var out []model.Artifact
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("kvstore: decode artifacts for job %s: %w", jobID, err)
	}
	return out, nil
}
