package queue

import (
	"testing"

	"github.com/trunov/captionhub/internal/errs"
)

func TestParseCompressJob(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    CompressJob
		wantErr bool
	}{
		{name: "valid", raw: `{"todo_id": 42, "filename": "a1b2.jpg"}`, want: CompressJob{RecordID: 42, ObjectName: "a1b2.jpg"}},
		{name: "extra fields ignored", raw: `{"todo_id": 1, "filename": "x.jpg", "trace": "t"}`, want: CompressJob{RecordID: 1, ObjectName: "x.jpg"}},
		{name: "not json", raw: `todo_id=1`, wantErr: true},
		{name: "missing id", raw: `{"filename": "x.jpg"}`, wantErr: true},
		{name: "missing filename", raw: `{"todo_id": 3}`, wantErr: true},
		{name: "zero id", raw: `{"todo_id": 0, "filename": "x.jpg"}`, wantErr: true},
		{name: "string id", raw: `{"todo_id": "3", "filename": "x.jpg"}`, wantErr: true},
		{name: "path traversal", raw: `{"todo_id": 3, "filename": "../x.jpg"}`, wantErr: true},
		{name: "wrong extension", raw: `{"todo_id": 3, "filename": "x.png"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompressJob([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if errs.KindOf(err) != errs.KindInvalidInput {
					t.Fatalf("want invalid input kind, got %v", errs.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompressJob_PublicObjectName(t *testing.T) {
	j := CompressJob{RecordID: 9, ObjectName: "f00d.jpg"}
	if got := j.PublicObjectName(); got != "compressed_f00d.jpg" {
		t.Fatalf("got %q", got)
	}
	if j.PublicObjectName() != j.PublicObjectName() {
		t.Fatalf("public name must be deterministic")
	}
}
