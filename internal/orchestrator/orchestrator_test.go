package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/local/docpipeline/internal/decoder"
	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/enrich"
	"github.com/local/docpipeline/internal/extract"
	"github.com/local/docpipeline/internal/layout"
	"github.com/local/docpipeline/internal/materialise"
	"github.com/local/docpipeline/internal/registry"
	"github.com/local/docpipeline/internal/store"
	"github.com/local/docpipeline/internal/templates"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// In-memory stores.

type memDocs struct {
	mu      sync.Mutex
	recs    map[string]document.Record
	states  []document.State
	saveErr error
	marked  bool
	kind    string
	msg     string
}

func newMemDocs() *memDocs { return &memDocs{recs: map[string]document.Record{}} }

func (m *memDocs) Save(_ context.Context, rec *document.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.recs[rec.ID] = *rec
	m.states = append(m.states, rec.State)
	return nil
}

func (m *memDocs) Get(_ context.Context, id string) (*document.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, false, nil
	}
	c := rec
	return &c, true, nil
}

func (m *memDocs) MarkFailed(_ context.Context, id, kind, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = true
	m.kind, m.msg = kind, msg
	if rec, ok := m.recs[id]; ok {
		rec.State = document.StateFailed
		rec.FailureKind, rec.FailureMsg = kind, msg
		m.recs[id] = rec
	}
	return nil
}

func (m *memDocs) put(rec document.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
}

func (m *memDocs) stateWalk() []document.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]document.State(nil), m.states...)
}

type memArts struct {
	mu   sync.Mutex
	arts map[string][]document.Artifact
}

func newMemArts() *memArts { return &memArts{arts: map[string][]document.Artifact{}} }

func (m *memArts) Save(_ context.Context, a *document.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.arts[a.DocumentID]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = *a
			return nil
		}
	}
	m.arts[a.DocumentID] = append(list, *a)
	return nil
}

func (m *memArts) ListByDocument(_ context.Context, docID string) ([]document.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]document.Artifact(nil), m.arts[docID]...), nil
}

type memStatus struct {
	mu      sync.Mutex
	entries map[string][]store.Status
}

func newMemStatus() *memStatus { return &memStatus{entries: map[string][]store.Status{}} }

func (m *memStatus) Set(_ context.Context, docID string, st store.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[docID] = append(m.entries[docID], st)
	return nil
}

func (m *memStatus) Get(_ context.Context, docID string) (store.Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[docID]
	if len(list) == 0 {
		return store.Status{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (m *memStatus) all(docID string) []store.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Status(nil), m.entries[docID]...)
}

// Stage fakes.

type fakeDecoder struct {
	res       *decoder.Result
	converted *decoder.Result
	err       error
	calls     int
}

func (f *fakeDecoder) Classify(_, declaredMIME, _ string) (*decoder.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if declaredMIME == "application/pdf" && f.converted != nil {
		return f.converted, nil
	}
	return f.res, nil
}

type fakeConverter struct {
	ok    bool
	path  string
	err   error
	calls int
}

func (f *fakeConverter) Available() bool { return f.ok }

func (f *fakeConverter) ToPDF(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeLayout struct {
	out        *layout.Output
	engine     string
	err        error
	gotEngines []string
	gotReq     layout.Request
}

func (f *fakeLayout) Extract(_ context.Context, engines []string, req layout.Request) (*layout.Output, string, error) {
	f.gotEngines = engines
	f.gotReq = req
	if f.err != nil {
		return nil, "", f.err
	}
	return f.out, f.engine, nil
}

type fakeBuilder struct {
	items    []materialise.Item
	err      error
	gotClass document.InputClass
}

func (f *fakeBuilder) Build(_ context.Context, docID, _ string, class document.InputClass, _ *layout.Output) ([]materialise.Item, error) {
	f.gotClass = class
	if f.err != nil {
		return nil, f.err
	}
	items := make([]materialise.Item, len(f.items))
	copy(items, f.items)
	for i := range items {
		items[i].Artifact.DocumentID = docID
	}
	return items, nil
}

type fakePersister struct {
	err   error
	calls int
}

func (f *fakePersister) Persist(_ context.Context, a *document.Artifact, _ []byte) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	a.BlobKey = "blob/" + a.ID
	return nil
}

type fakeBlobs struct {
	data    map[string][]byte
	signErr error
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := f.data[key]
	if !ok {
		return nil, errors.New("no such key: " + key)
	}
	return b, nil
}

func (f *fakeBlobs) Sign(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://blobs.test/" + key, nil
}

type fakeEnricher struct {
	resolveErr error
	outcome    enrich.Outcome
	runErr     error
	readSource bool
	gotOpts    enrich.Options
	calls      int
}

func (f *fakeEnricher) Resolve(string) error { return f.resolveErr }

func (f *fakeEnricher) Run(ctx context.Context, _ *document.Record, artifacts []*document.Artifact, src enrich.Source, opts enrich.Options) (enrich.Outcome, error) {
	f.calls++
	f.gotOpts = opts
	if f.runErr != nil {
		return enrich.Outcome{}, f.runErr
	}
	for _, a := range artifacts {
		if f.readSource {
			if _, err := src(ctx, a); err != nil {
				return enrich.Outcome{}, err
			}
		}
		desc := "a chart"
		a.Description = &desc
	}
	return f.outcome, nil
}

type fakeExtractor struct {
	res extract.Result
	got extract.Request
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) extract.Result {
	f.got = req
	return f.res
}

type fakeProviders struct{ infos []extract.Info }

func (f *fakeProviders) List() []extract.Info { return f.infos }

type fakeBackends struct{ snaps []registry.Snapshot }

func (f *fakeBackends) Snapshots() []registry.Snapshot { return f.snaps }

const sampleTemplate = `{
  "id": "spec_sheet",
  "name": "Spec sheet",
  "system_prompt": "sys",
  "user_prompt_template": "Fields:\n{variables_list}\nText:\n{text}\nSchema:\n{json_schema}",
  "variables": [{"name": "title", "description": "Title", "type": "string", "required": true}]
}`

func loadTemplates(t *testing.T, files map[string]string) *templates.Registry {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	reg, err := templates.Load(dir)
	require.NoError(t, err)
	return reg
}

// fixture wires an orchestrator over fakes that model a two-page text
// PDF with one embedded and one region image.
type fixture struct {
	docs    *memDocs
	arts    *memArts
	status  *memStatus
	decoder *fakeDecoder
	conv    *fakeConverter
	layout  *fakeLayout
	builder *fakeBuilder
	pers    *fakePersister
	blobs   *fakeBlobs
	enr     *fakeEnricher
	ext     *fakeExtractor
	provs   *fakeProviders
	backs   *fakeBackends
	reg     *templates.Registry
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		docs:   newMemDocs(),
		arts:   newMemArts(),
		status: newMemStatus(),
		decoder: &fakeDecoder{res: &decoder.Result{
			Class: document.ClassTextPDF,
			MIME:  "application/pdf",
			Plan:  &decoder.Plan{Engines: []string{"layout_remote", "text_native"}},
		}},
		conv: &fakeConverter{ok: true},
		layout: &fakeLayout{
			engine: "layout_remote",
			out: &layout.Output{
				Markdown: "# Title\n\nbody text",
				Pages: []document.Page{
					{Number: 1, Text: "# Title"},
					{Number: 2, Text: "body text"},
				},
			},
		},
		builder: &fakeBuilder{items: []materialise.Item{
			{Artifact: document.Artifact{ID: "a1", Name: "p1_0.png", Origin: document.OriginEmbedded, MIME: "image/png"}, Data: []byte("png-1")},
			{Artifact: document.Artifact{ID: "a2", Name: "p2_0.png", Origin: document.OriginRegion, MIME: "image/png"}, Data: []byte("png-2")},
		}},
		pers:  &fakePersister{},
		blobs: &fakeBlobs{data: map[string][]byte{}},
		enr:   &fakeEnricher{outcome: enrich.Outcome{Processed: 2}},
		ext:   &fakeExtractor{res: extract.Result{Success: true}},
		provs: &fakeProviders{infos: []extract.Info{
			{Name: "local", Configured: true, Model: "llava"},
			{Name: "cloud_a", Configured: false},
		}},
		backs: &fakeBackends{},
	}
	f.reg = loadTemplates(t, map[string]string{"spec_sheet.json": sampleTemplate})
	f.orch = New(Deps{
		Decoder:   f.decoder,
		Converter: f.conv,
		Layout:    f.layout,
		Builder:   f.builder,
		Persister: f.pers,
		Blobs:     f.blobs,
		Enricher:  f.enr,
		Extractor: f.ext,
		Providers: f.provs,
		Templates: f.reg,
		Documents: f.docs,
		Artifacts: f.arts,
		Status:    f.status,
		Backends:  f.backs,
		RedisPing: PingFunc(func(context.Context) error { return nil }),
		BlobPing:  PingFunc(func(context.Context) error { return nil }),
	}, Defaults{Device: "cpu", Lang: "en"})
	return f
}
