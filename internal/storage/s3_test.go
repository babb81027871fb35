/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"gocloud.dev/blob/memblob"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })
	return &Store{bucket: bucket, name: "boundary-recordings"}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	if err := store.Upload(ctx, "sessions/s_0001.rec", strings.NewReader("recording bytes")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	r, err := store.Download(ctx, "sessions/s_0001.rec")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "recording bytes" {
		t.Errorf("downloaded %q, want %q", data, "recording bytes")
	}
}

func TestListSortedByKey(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	for _, key := range []string{"sessions/s_0003.rec", "sessions/s_0001.rec", "sessions/s_0002.rec", "other/x"} {
		if err := store.Upload(ctx, key, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := store.List(ctx, "sessions/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("object count = %d, want 3", len(objects))
	}
	for i := 1; i < len(objects); i++ {
		if objects[i-1].Key > objects[i].Key {
			t.Errorf("objects not sorted: %q before %q", objects[i-1].Key, objects[i].Key)
		}
	}
}

func TestDeleteMissingObjectIsNoop(t *testing.T) {
	store := newMemStore(t)
	if err := store.Delete(context.Background(), "sessions/never-uploaded"); err != nil {
		t.Fatalf("Delete() of missing object error = %v", err)
	}
}

func TestOpenRequiresBucketName(t *testing.T) {
	_, err := Open(context.Background(), ClientConfig{Endpoint: "https://minio.hashicorp.lab:9000"}, "")
	if err == nil {
		t.Error("empty bucket name accepted")
	}
}
