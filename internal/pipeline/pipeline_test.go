package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/blob"
	"github.com/trunov/captionhub/internal/cache"
	"github.com/trunov/captionhub/internal/entities"
	"github.com/trunov/captionhub/internal/errs"
	"github.com/trunov/captionhub/internal/events"
	"github.com/trunov/captionhub/internal/processor"
	"github.com/trunov/captionhub/internal/redisholder"
)

const (
	rawBucket    = "raw"
	publicBucket = "public"
	baseURL      = "https://storage.googleapis.com"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeRecords struct {
	mu        sync.Mutex
	records   map[int64]entities.Record
	completes int
}

func newFakeRecords(recs ...entities.Record) *fakeRecords {
	f := &fakeRecords{records: map[int64]entities.Record{}}
	for _, r := range recs {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeRecords) CompleteRecord(_ context.Context, id int64, publicURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || (r.Status != entities.StatusProcessing && r.Status != entities.StatusCompleted) {
		return errs.E(errs.KindNotFound, "fake.CompleteRecord", errors.New("no record awaiting compression"))
	}
	r.Status = entities.StatusCompleted
	r.PublicObjectURL = &publicURL
	f.records[id] = r
	f.completes++
	return nil
}

func (f *fakeRecords) get(id int64) entities.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.RecordCompleted
	err    error
}

func (r *recordingEvents) PublishCompleted(_ context.Context, ev events.RecordCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingEvents) Close() error { return nil }

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), uint8((x + y) * 2), 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func processingRecord(id int64, name string) entities.Record {
	raw := blob.ObjectURL(baseURL, rawBucket, name)
	return entities.Record{ID: id, Caption: "c", Status: entities.StatusProcessing, RawObjectURL: &raw}
}

type env struct {
	p       *Pipeline
	store   *blob.Memory
	records *fakeRecords
	events  *recordingEvents
}

func newEnv(t *testing.T, recs ...entities.Record) env {
	t.Helper()
	store := blob.NewMemory(baseURL)
	records := newFakeRecords(recs...)
	ev := &recordingEvents{}
	p := New(store, records, processor.NewCompressor(40, 0, 0), nil, ev, Options{
		RawBucket:    rawBucket,
		PublicBucket: publicBucket,
		ScratchDir:   t.TempDir(),
	}, quietLogger())
	return env{p: p, store: store, records: records, events: ev}
}

func TestHandle_CompletesRecord(t *testing.T) {
	e := newEnv(t, processingRecord(5, "abc.jpg"))
	ctx := context.Background()
	if err := e.store.Upload(ctx, rawBucket, "abc.jpg", "image/jpeg", testJPEG(t)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.p.Handle(ctx, []byte(`{"todo_id":5,"filename":"abc.jpg"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec := e.records.get(5)
	want := "https://storage.googleapis.com/public/compressed_abc.jpg"
	if rec.Status != entities.StatusCompleted || rec.PublicObjectURL == nil || *rec.PublicObjectURL != want {
		t.Fatalf("record = %+v", rec)
	}
	data, ct, ok := e.store.Object(publicBucket, "compressed_abc.jpg")
	if !ok || ct != "image/jpeg" {
		t.Fatalf("public object missing or wrong type %q", ct)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("public object is not a jpeg: %v", err)
	}
	if len(e.events.events) != 1 || e.events.events[0].PublicURL != want {
		t.Fatalf("events = %+v", e.events.events)
	}
}

func TestHandle_TwiceIsIdempotent(t *testing.T) {
	e := newEnv(t, processingRecord(5, "abc.jpg"))
	ctx := context.Background()
	_ = e.store.Upload(ctx, rawBucket, "abc.jpg", "image/jpeg", testJPEG(t))
	payload := []byte(`{"todo_id":5,"filename":"abc.jpg"}`)

	if err := e.p.Handle(ctx, payload); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	first := *e.records.get(5).PublicObjectURL
	if err := e.p.Handle(ctx, payload); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	rec := e.records.get(5)
	if rec.Status != entities.StatusCompleted || *rec.PublicObjectURL != first {
		t.Fatalf("second run changed record: %+v", rec)
	}
	if n := e.store.Count(publicBucket); n != 1 {
		t.Fatalf("public objects = %d, want 1", n)
	}
}

func TestHandle_MissingRawObjectIsNotFound(t *testing.T) {
	e := newEnv(t, processingRecord(6, "gone.jpg"))

	err := e.p.Handle(context.Background(), []byte(`{"todo_id":6,"filename":"gone.jpg"}`))
	if !errs.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	rec := e.records.get(6)
	if rec.Status != entities.StatusProcessing || rec.PublicObjectURL != nil {
		t.Fatalf("record changed: %+v", rec)
	}
	if e.store.Count(publicBucket) != 0 {
		t.Fatalf("no public object expected")
	}
}

func TestHandle_MalformedPayloads(t *testing.T) {
	e := newEnv(t)
	for _, raw := range []string{
		``,
		`{`,
		`[]`,
		`{"todo_id":"x","filename":"a.jpg"}`,
		`{"todo_id":1}`,
		`{"filename":"a.jpg"}`,
		`{"todo_id":-1,"filename":"a.jpg"}`,
		`{"todo_id":1,"filename":"dir/a.jpg"}`,
	} {
		err := e.p.Handle(context.Background(), []byte(raw))
		if errs.KindOf(err) != errs.KindInvalidInput {
			t.Fatalf("payload %q: want invalid input, got %v", raw, err)
		}
	}
}

func TestHandle_UndecodableImageIsInvalidInput(t *testing.T) {
	e := newEnv(t, processingRecord(7, "bad.jpg"))
	ctx := context.Background()
	_ = e.store.Upload(ctx, rawBucket, "bad.jpg", "image/jpeg", []byte("definitely not an image"))

	err := e.p.Handle(ctx, []byte(`{"todo_id":7,"filename":"bad.jpg"}`))
	if errs.KindOf(err) != errs.KindInvalidInput {
		t.Fatalf("want invalid input, got %v", err)
	}
}

func TestHandle_TextOnlyOrDeletedRecordIsNotFound(t *testing.T) {
	textOnly := entities.Record{ID: 8, Status: entities.StatusTextOnly}
	e := newEnv(t, textOnly)
	ctx := context.Background()
	_ = e.store.Upload(ctx, rawBucket, "x.jpg", "image/jpeg", testJPEG(t))

	for _, raw := range []string{`{"todo_id":8,"filename":"x.jpg"}`, `{"todo_id":99,"filename":"x.jpg"}`} {
		if err := e.p.Handle(ctx, []byte(raw)); !errs.IsNotFound(err) {
			t.Fatalf("%s: want not found, got %v", raw, err)
		}
	}
	if e.records.get(8).Status != entities.StatusTextOnly {
		t.Fatalf("text_only record must not change")
	}
}

func TestHandle_EventFailureDoesNotFailJob(t *testing.T) {
	e := newEnv(t, processingRecord(9, "e.jpg"))
	e.events.err = errors.New("kafka down")
	ctx := context.Background()
	_ = e.store.Upload(ctx, rawBucket, "e.jpg", "image/jpeg", testJPEG(t))

	if err := e.p.Handle(ctx, []byte(`{"todo_id":9,"filename":"e.jpg"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestHandle_ConcurrentDuplicatesConverge(t *testing.T) {
	e := newEnv(t, processingRecord(5, "dup.jpg"))
	ctx := context.Background()
	_ = e.store.Upload(ctx, rawBucket, "dup.jpg", "image/jpeg", testJPEG(t))
	payload := []byte(`{"todo_id":5,"filename":"dup.jpg"}`)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- e.p.Handle(ctx, payload)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	rec := e.records.get(5)
	if rec.Status != entities.StatusCompleted {
		t.Fatalf("status = %s", rec.Status)
	}
	if n := e.store.Count(publicBucket); n != 1 {
		t.Fatalf("public objects = %d, want 1", n)
	}
}

func TestHandle_CompletionMarkerShortCircuits(t *testing.T) {
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	marker := cache.NewCache("captionhub:completed", redisholder.NewHolder(rc))

	store := blob.NewMemory(baseURL)
	records := newFakeRecords(processingRecord(11, "m.jpg"))
	p := New(store, records, processor.NewCompressor(40, 0, 0), marker, nil, Options{
		RawBucket:     rawBucket,
		PublicBucket:  publicBucket,
		CompletionTTL: time.Hour,
	}, quietLogger())

	ctx := context.Background()
	_ = store.Upload(ctx, rawBucket, "m.jpg", "image/jpeg", testJPEG(t))
	payload := []byte(`{"todo_id":11,"filename":"m.jpg"}`)

	if err := p.Handle(ctx, payload); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	s.CheckGet(t, "captionhub:completed:11:m.jpg", "https://storage.googleapis.com/public/compressed_m.jpg")

	uploads := store.Uploads()
	if err := p.Handle(ctx, payload); err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if store.Uploads() != uploads || records.completes != 1 {
		t.Fatalf("duplicate was processed again: uploads %d -> %d, completes %d", uploads, store.Uploads(), records.completes)
	}
}

func TestHandle_ScratchDirIsCleaned(t *testing.T) {
	e := newEnv(t, processingRecord(12, "s.jpg"))
	ctx := context.Background()
	_ = e.store.Upload(ctx, rawBucket, "s.jpg", "image/jpeg", testJPEG(t))
	_ = e.p.Handle(ctx, []byte(`{"todo_id":12,"filename":"s.jpg"}`))
	_ = e.p.Handle(ctx, []byte(`{"todo_id":12,"filename":"missing.jpg"}`))

	entries, err := os.ReadDir(e.p.opts.ScratchDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned: %d entries left", len(entries))
	}
}
