package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

type memStore struct {
	objects []types.Object
	deleted []string
}

func (m *memStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	now := time.Now()
	m.objects = append(m.objects, types.Object{Key: in.Key, LastModified: &now})
	return &s3.PutObjectOutput{}, nil
}

func (m *memStore) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var out []types.Object
	for _, o := range m.objects {
		if strings.HasPrefix(aws.ToString(o.Key), aws.ToString(in.Prefix)) {
			out = append(out, o)
		}
	}
	return &s3.ListObjectsV2Output{Contents: out}, nil
}

func (m *memStore) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func backupAt(day int) types.Object {
	t := time.Date(2025, 3, day, 3, 0, 0, 0, time.UTC)
	return types.Object{Key: aws.String(backupKey(t)), LastModified: &t}
}

func TestExpiredKeepsNewest(t *testing.T) {
	objects := []types.Object{backupAt(2), backupAt(5), backupAt(1), backupAt(4), backupAt(3)}

	got := expired(objects, 3)
	if len(got) != 2 {
		t.Fatalf("expired = %d objects, want 2", len(got))
	}
	if aws.ToString(got[0].Key) != backupKey(time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("first expired = %s", aws.ToString(got[0].Key))
	}
	if expired(objects, 10) != nil {
		t.Error("nothing should expire under the limit")
	}
}

func TestRotateDeletesOnlyBackups(t *testing.T) {
	store := &memStore{objects: []types.Object{backupAt(1), backupAt(2), backupAt(3)}}
	other := time.Now()
	store.objects = append(store.objects, types.Object{Key: aws.String("leads/photo.jpg"), LastModified: &other})

	n, err := rotate(context.Background(), store, "bucket", 2, zap.NewNop())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if n != 1 || len(store.deleted) != 1 || store.deleted[0] != aws.ToString(backupAt(1).Key) {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestBackupKey(t *testing.T) {
	key := backupKey(time.Date(2025, 6, 1, 12, 30, 0, 0, time.FixedZone("CEST", 7200)))
	if key != "db-backups/gainable-2025-06-01T10-30-00Z.sql.gz" {
		t.Errorf("key = %s", key)
	}
}
