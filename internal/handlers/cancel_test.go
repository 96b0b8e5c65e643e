package handlers

import (
	"context"
	"testing"
)

func TestActiveJobsRemoveReleasesContext(t *testing.T) {
	a := newActiveJobs()
	a.removeStream("ghost")
	a.removeUpload("ghost")

	streamCtx, streamCancel := context.WithCancel(context.Background())
	if !a.addStream("c1", streamCancel) {
		t.Fatal("addStream() = false, want a free slot")
	}
	a.removeStream("c1")
	if streamCtx.Err() == nil {
		t.Error("stream context still live after removeStream")
	}
	if !a.addStream("c1", func() {}) {
		t.Error("addStream() = false after removal, want the slot free again")
	}

	uploadCtx, uploadCancel := context.WithCancel(context.Background())
	a.addUpload("u1", uploadCancel)
	a.removeUpload("u1")
	if uploadCtx.Err() == nil {
		t.Error("upload context still live after removeUpload")
	}
}
