package use_case

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/blob"
	"github.com/trunov/captionhub/internal/cipher"
	"github.com/trunov/captionhub/internal/cryptoclient"
	"github.com/trunov/captionhub/internal/entities"
	"github.com/trunov/captionhub/internal/errs"
	"github.com/trunov/captionhub/internal/queue"
	"github.com/trunov/captionhub/internal/transport/handler"
)

const baseURL = "https://storage.googleapis.com"

var testBuckets = Buckets{Raw: "raw", Public: "public"}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeStorage struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]entities.Record
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{records: map[int64]entities.Record{}}
}

func (f *fakeStorage) InsertRecord(_ context.Context, nr entities.NewRecord) (entities.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := time.Now()
	rec := entities.Record{
		ID:               f.nextID,
		Caption:          nr.Caption,
		CaptionEncrypted: nr.CaptionEncrypted,
		RawObjectURL:     nr.RawObjectURL,
		Status:           nr.Status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeStorage) GetRecord(_ context.Context, id int64) (entities.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return entities.Record{}, errs.E(errs.KindNotFound, "fake.GetRecord", nil)
	}
	return rec, nil
}

func (f *fakeStorage) ListRecords(_ context.Context) ([]entities.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStorage) ToggleDone(_ context.Context, id int64) (entities.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return entities.Record{}, errs.E(errs.KindNotFound, "fake.ToggleDone", nil)
	}
	rec.Done = !rec.Done
	f.records[id] = rec
	return rec, nil
}

func (f *fakeStorage) DeleteRecord(_ context.Context, id int64) (entities.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return entities.Record{}, errs.E(errs.KindNotFound, "fake.DeleteRecord", nil)
	}
	delete(f.records, id)
	return rec, nil
}

// fakePublisher checks that every published job refers to a stored record.
type fakePublisher struct {
	storage *fakeStorage
	jobs    []queue.CompressJob
	err     error
	orphans int
}

func (p *fakePublisher) PublishCompress(ctx context.Context, job queue.CompressJob) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if _, err := p.storage.GetRecord(ctx, job.RecordID); err != nil {
		p.orphans++
	}
	p.jobs = append(p.jobs, job)
	return "1-0", nil
}

type env struct {
	uc      *useCase
	storage *fakeStorage
	objects *blob.Memory
	pub     *fakePublisher
}

func newEnv(t *testing.T, cryptoURL string) env {
	t.Helper()
	storage := newFakeStorage()
	objects := blob.NewMemory(baseURL)
	pub := &fakePublisher{storage: storage}
	crypto := cryptoclient.New(cryptoURL, time.Second, quietLogger())
	return env{
		uc:      New(storage, objects, crypto, pub, testBuckets, quietLogger()),
		storage: storage,
		objects: objects,
		pub:     pub,
	}
}

func cipherURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler.NewCipherHandler().Transform))
	t.Cleanup(srv.Close)
	return srv.URL
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return srv.URL
}

var objectNameRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.jpg$`)

func TestSubmit_TextOnly(t *testing.T) {
	e := newEnv(t, cipherURL(t))

	rec, err := e.uc.Submit(context.Background(), entities.Submission{Caption: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != entities.StatusTextOnly || rec.RawObjectURL != nil {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Caption != cipher.Encrypt("hello") || !rec.CaptionEncrypted {
		t.Fatalf("caption %q encrypted=%v", rec.Caption, rec.CaptionEncrypted)
	}
	if len(e.pub.jobs) != 0 {
		t.Fatalf("no job expected for text-only record")
	}
}

func TestSubmit_CryptoDownStoresPlaintext(t *testing.T) {
	e := newEnv(t, deadURL(t))

	rec, err := e.uc.Submit(context.Background(), entities.Submission{Caption: "hello"})
	if err != nil {
		t.Fatalf("Submit must not fail when crypto is down: %v", err)
	}
	if rec.Caption != "hello" || rec.CaptionEncrypted {
		t.Fatalf("want plaintext fallback, got %+v", rec)
	}
}

func TestSubmit_WithImagePublishesAfterInsert(t *testing.T) {
	e := newEnv(t, cipherURL(t))
	img := []byte("\xff\xd8\xff fake jpeg")

	rec, err := e.uc.Submit(context.Background(), entities.Submission{Caption: "secret", Image: img, ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != entities.StatusProcessing || rec.RawObjectURL == nil {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Caption != cipher.Encrypt("secret") {
		t.Fatalf("caption %q", rec.Caption)
	}

	if len(e.pub.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(e.pub.jobs))
	}
	job := e.pub.jobs[0]
	if job.RecordID != rec.ID || !objectNameRe.MatchString(job.ObjectName) {
		t.Fatalf("job = %+v", job)
	}
	if e.pub.orphans != 0 {
		t.Fatalf("job published before the record was stored")
	}
	if *rec.RawObjectURL != blob.ObjectURL(baseURL, "raw", job.ObjectName) {
		t.Fatalf("raw url %q", *rec.RawObjectURL)
	}
	data, _, ok := e.objects.Object("raw", job.ObjectName)
	if !ok || string(data) != string(img) {
		t.Fatalf("raw object not stored")
	}
}

func TestSubmit_PublishFailureKeepsRecord(t *testing.T) {
	e := newEnv(t, cipherURL(t))
	e.pub.err = errors.New("redis down")

	rec, err := e.uc.Submit(context.Background(), entities.Submission{Caption: "x", Image: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	stored, err := e.storage.GetRecord(context.Background(), rec.ID)
	if err != nil || stored.Status != entities.StatusProcessing {
		t.Fatalf("record must stay processing: %+v, %v", stored, err)
	}
}

func TestSubmit_SkipEncryption(t *testing.T) {
	e := newEnv(t, cipherURL(t))

	rec, err := e.uc.Submit(context.Background(), entities.Submission{Caption: "LoadTest: a.png", Image: []byte{1}, SkipEncryption: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Caption != "LoadTest: a.png" || rec.CaptionEncrypted {
		t.Fatalf("caption must stay plaintext: %+v", rec)
	}
}

func TestListRecords_DecryptsOnlyEncryptedCaptions(t *testing.T) {
	url := cipherURL(t)
	e := newEnv(t, url)
	ctx := context.Background()

	if _, err := e.uc.Submit(ctx, entities.Submission{Caption: "encrypted one"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// A plaintext fallback must not be scrambled on read.
	_, _ = e.storage.InsertRecord(ctx, entities.NewRecord{Caption: "plain one", Status: entities.StatusTextOnly})

	recs, err := e.uc.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 2 || recs[0].Caption != "encrypted one" || recs[1].Caption != "plain one" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestGetRecord_CryptoDownShowsCiphertext(t *testing.T) {
	e := newEnv(t, deadURL(t))
	ctx := context.Background()
	enc := cipher.Encrypt("hidden")
	rec, _ := e.storage.InsertRecord(ctx, entities.NewRecord{Caption: enc, CaptionEncrypted: true, Status: entities.StatusTextOnly})

	got, err := e.uc.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Caption != enc || !got.CaptionEncrypted {
		t.Fatalf("got %+v", got)
	}
}

func TestToggleDone(t *testing.T) {
	e := newEnv(t, cipherURL(t))
	ctx := context.Background()
	rec, _ := e.uc.Submit(ctx, entities.Submission{Caption: "t", Image: []byte{1}})

	got, err := e.uc.ToggleDone(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ToggleDone: %v", err)
	}
	if !got.Done || got.Status != entities.StatusProcessing {
		t.Fatalf("got %+v", got)
	}
	if _, err := e.uc.ToggleDone(ctx, 999); !errs.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestDeleteRecord_RemovesObjects(t *testing.T) {
	e := newEnv(t, cipherURL(t))
	ctx := context.Background()
	rec, _ := e.uc.Submit(ctx, entities.Submission{Caption: "d", Image: []byte{1}})
	name := e.pub.jobs[0].ObjectName
	_ = e.objects.Upload(ctx, "public", queue.PublicPrefix+name, "image/jpeg", []byte{2})
	public := e.objects.URL("public", queue.PublicPrefix+name)
	e.storage.mu.Lock()
	r := e.storage.records[rec.ID]
	r.PublicObjectURL = &public
	e.storage.records[rec.ID] = r
	e.storage.mu.Unlock()

	if err := e.uc.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if e.objects.Count("raw") != 0 || e.objects.Count("public") != 0 {
		t.Fatalf("objects left behind")
	}
	if _, err := e.uc.GetRecord(ctx, rec.ID); !errs.IsNotFound(err) {
		t.Fatalf("want not found after delete, got %v", err)
	}
	if err := e.uc.DeleteRecord(ctx, rec.ID); !errs.IsNotFound(err) {
		t.Fatalf("second delete: want not found, got %v", err)
	}
}
