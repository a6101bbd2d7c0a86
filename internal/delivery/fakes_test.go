package delivery

import (
	"context"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

type fakeObjects struct{ objects map[string][]byte }

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: make(map[string][]byte)} }

func (f *fakeObjects) Put(_ context.Context, key string, content []byte, _ string, _ bool) (string, string, error) {
	f.objects[key] = content
	return "https://bucket.example/" + key, "https://cdn.example/" + key, nil
}
func (f *fakeObjects) Get(_ context.Context, key string) ([]byte, error) { return f.objects[key], nil }
func (f *fakeObjects) Head(context.Context, string) (capability.ObjectMeta, error) {
	return capability.ObjectMeta{}, nil
}
func (f *fakeObjects) Presign(context.Context, string, time.Duration) (string, error) { return "", nil }

type fakeKV struct {
	artifacts map[string]model.Artifact
	byJob     []model.Artifact
	templates map[string]model.Template
}

func newFakeKV() *fakeKV {
	return &fakeKV{artifacts: make(map[string]model.Artifact), templates: make(map[string]model.Template)}
}

func (f *fakeKV) GetJob(context.Context, string, string) (model.Job, error) { return model.Job{}, nil }
func (f *fakeKV) GetJobByID(context.Context, string) (model.Job, error) { return model.Job{}, nil }
func (f *fakeKV) PutJob(context.Context, model.Job) error                   { return nil }
func (f *fakeKV) GetWorkflow(context.Context, string, string) (model.Workflow, error) {
	return model.Workflow{}, nil
}
func (f *fakeKV) GetSubmission(context.Context, string, string) (model.Submission, error) {
	return model.Submission{}, nil
}
func (f *fakeKV) GetForm(context.Context, string, string) (model.Form, error) { return model.Form{}, nil }
func (f *fakeKV) GetTemplate(_ context.Context, tenantID, templateID string, version int) (model.Template, error) {
	tmpl, ok := f.templates[tenantID+"/"+templateID]
	if !ok {
		return model.Template{}, capability.ErrNotFound
	}
	_ = version
	return tmpl, nil
}
func (f *fakeKV) PutArtifact(_ context.Context, a model.Artifact) error {
	f.artifacts[a.ArtifactID] = a
	f.byJob = append(f.byJob, a)
	return nil
}
func (f *fakeKV) GetArtifact(_ context.Context, _, id string) (model.Artifact, error) {
	return f.artifacts[id], nil
}
func (f *fakeKV) ListArtifactsByJob(context.Context, string, string) ([]model.Artifact, error) {
	return f.byJob, nil
}

type fakeIDs struct{ n int }

func (f *fakeIDs) NewID(prefix string) string {
	f.n++
	return prefix + "-fixed"
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakeStoreHTTP struct{ body []byte }

func (f *fakeStoreHTTP) Do(context.Context, string, string, map[string]string, []byte) (int, []byte, error) {
	return 200, f.body, nil
}

func newTestStoreAndKV() (*artifactstore.Store, *fakeKV) {
	kv := newFakeKV()
	return artifactstore.New(newFakeObjects(), kv, &fakeStoreHTTP{body: []byte("img-bytes")}, &fakeIDs{}, &fakeClock{now: time.Unix(0, 0)}), kv
}

type fakeEmailSender struct {
	sent []capability.EmailMessage
	err  error
}

func (f *fakeEmailSender) Send(_ context.Context, msg capability.EmailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeWebhookHTTP struct {
	statuses []int
	bodies   [][]byte
	err      error
	calls    int
	reqs     []fakeWebhookCall
}

type fakeWebhookCall struct {
	method string
	url    string
	body   []byte
}

func (f *fakeWebhookHTTP) Do(_ context.Context, method, url string, _ map[string]string, body []byte) (int, []byte, error) {
	f.reqs = append(f.reqs, fakeWebhookCall{method: method, url: url, body: body})
	i := f.calls
	f.calls++
	if f.err != nil {
		return 0, nil, f.err
	}
	if i < len(f.statuses) {
		status := f.statuses[i]
		var b []byte
		if i < len(f.bodies) {
			b = f.bodies[i]
		}
		return status, b, nil
	}
	last := f.statuses[len(f.statuses)-1]
	return last, nil, nil
}
